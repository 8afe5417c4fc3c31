package store

import (
	"context"

	"github.com/tabeth/memq/models"
)

// Store is the interface for the queue engine.
// It defines all the data operations required by the SQS-compatible API.
// Queue arguments are queue names; move-task arguments are queue ARNs.
type Store interface {
	// Queue Management
	CreateQueue(ctx context.Context, name string, attributes map[string]string, tags map[string]string) (bool, error)
	DeleteQueue(ctx context.Context, name string) error
	ListQueues(ctx context.Context, maxResults int, nextToken, queueNamePrefix string) ([]string, string, error)
	GetQueueAttributes(ctx context.Context, name string) (map[string]string, error)
	SetQueueAttributes(ctx context.Context, name string, attributes map[string]string) error
	GetQueueArn(ctx context.Context, name string) (string, error)
	PurgeQueue(ctx context.Context, name string) error

	// Message Management
	SendMessage(ctx context.Context, queueName string, message *models.SendMessageRequest) (*models.SendMessageResponse, error)
	SendMessageBatch(ctx context.Context, queueName string, req *models.SendMessageBatchRequest) (*models.SendMessageBatchResponse, error)
	ReceiveMessage(ctx context.Context, queueName string, req *models.ReceiveMessageRequest) (*models.ReceiveMessageResponse, error)
	DeleteMessage(ctx context.Context, queueName string, receiptHandle string) error
	DeleteMessageBatch(ctx context.Context, queueName string, entries []models.DeleteMessageBatchRequestEntry) (*models.DeleteMessageBatchResponse, error)
	ChangeMessageVisibility(ctx context.Context, queueName string, receiptHandle string, visibilityTimeout int) error
	ChangeMessageVisibilityBatch(ctx context.Context, queueName string, entries []models.ChangeMessageVisibilityBatchRequestEntry) (*models.ChangeMessageVisibilityBatchResponse, error)

	// Permissions
	AddPermission(ctx context.Context, queueName string, statement models.Statement) error
	RemovePermission(ctx context.Context, queueName, label string) error

	// Tagging
	ListQueueTags(ctx context.Context, queueName string) (map[string]string, error)
	TagQueue(ctx context.Context, queueName string, tags map[string]string) error
	UntagQueue(ctx context.Context, queueName string, tagKeys []string) error

	// Dead-Letter Queues
	ListDeadLetterSourceQueues(ctx context.Context, queueName string, maxResults int, nextToken string) ([]string, string, error)

	// Message Move Tasks
	StartMessageMoveTask(ctx context.Context, sourceArn, destinationArn string, maxPerSecond int) (string, error)
	CancelMessageMoveTask(ctx context.Context, taskHandle string) (int64, error)
	ListMessageMoveTasks(ctx context.Context, sourceArn string, maxResults int) ([]models.ListMessageMoveTasksResultEntry, error)
}
