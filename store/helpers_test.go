package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tabeth/memq/models"
	"github.com/tabeth/memq/store/schedule"
)

var testEpoch = time.Unix(1700000000, 0)

func setupTestStore(t *testing.T, opts ...func(*Options)) (*MemoryStore, *schedule.Manual) {
	t.Helper()
	clock := schedule.NewManual(testEpoch)
	o := Options{
		Region:    "us-east-1",
		AccountID: "123456789012",
		Scheduler: clock,
		Logger:    zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	s := NewMemoryStore(o)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func testArn(name string) string {
	return "arn:aws:sqs:us-east-1:123456789012:" + name
}

func mustCreateQueue(t *testing.T, s *MemoryStore, name string, attrs map[string]string) {
	t.Helper()
	created, err := s.CreateQueue(context.Background(), name, attrs, nil)
	require.NoError(t, err)
	require.True(t, created)
}

func mustSend(t *testing.T, s *MemoryStore, queue, body string) *models.SendMessageResponse {
	t.Helper()
	resp, err := s.SendMessage(context.Background(), queue, &models.SendMessageRequest{MessageBody: body})
	require.NoError(t, err)
	return resp
}

func mustSendFifo(t *testing.T, s *MemoryStore, queue, body, group, dedup string) *models.SendMessageResponse {
	t.Helper()
	resp, err := s.SendMessage(context.Background(), queue, &models.SendMessageRequest{
		MessageBody:            body,
		MessageGroupId:         models.Ptr(group),
		MessageDeduplicationId: models.Ptr(dedup),
	})
	require.NoError(t, err)
	return resp
}

func receive(t *testing.T, s *MemoryStore, queue string, max int) []models.ResponseMessage {
	t.Helper()
	resp, err := s.ReceiveMessage(context.Background(), queue, &models.ReceiveMessageRequest{
		MaxNumberOfMessages: models.Ptr(max),
		AttributeNames:      []string{"All"},
	})
	require.NoError(t, err)
	return resp.Messages
}

func attr(t *testing.T, s *MemoryStore, queue, name string) string {
	t.Helper()
	attrs, err := s.GetQueueAttributes(context.Background(), queue)
	require.NoError(t, err)
	return attrs[name]
}

// waiting reports how many receives are suspended on the queue.
func (s *MemoryStore) waiting(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.reg.queues[name]
	if !ok {
		return 0
	}
	return len(q.waiters)
}
