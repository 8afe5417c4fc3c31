package store

import (
	"errors"
)

var (
	// ErrQueueDoesNotExist is returned when trying to operate on a queue that does not exist
	// or is pending deletion.
	ErrQueueDoesNotExist = errors.New("queue does not exist")
	// ErrQueueDeletedRecently is returned when re-creating a queue whose deletion grace window is still open.
	ErrQueueDeletedRecently = errors.New("queue deleted recently")
	// ErrQueueNameExists is returned when creating a queue that exists with different attributes.
	ErrQueueNameExists = errors.New("queue already exists")
	// ErrInvalidReceiptHandle is returned when a receipt handle is malformed or does not belong to the current delivery.
	ErrInvalidReceiptHandle = errors.New("receipt handle is invalid")
	// ErrReceiptHandleExpired is the FIFO flavor of an invalid handle: the delivery's visibility timeout has lapsed.
	ErrReceiptHandleExpired = errors.New("receipt handle has expired")
	// ErrMessageNotInflight is returned when changing the visibility of a message that is not in flight.
	ErrMessageNotInflight = errors.New("message is not in flight")
	// ErrMessageTooLong is returned when body plus attributes exceed the queue's MaximumMessageSize.
	ErrMessageTooLong = errors.New("message too long")
	// ErrPurgeQueueInProgress is returned when a purge request is made for a queue that has been purged in the last 60 seconds.
	ErrPurgeQueueInProgress = errors.New("purge queue in progress")
	// ErrMoveTaskAlreadyRunning is returned when the source already has a running or cancelling move task.
	ErrMoveTaskAlreadyRunning = errors.New("a message move task is already running on the source queue")
	// ErrMoveTaskSourceNotDLQ is returned when the move source is not any queue's dead-letter queue.
	ErrMoveTaskSourceNotDLQ = errors.New("source queue is not configured as a dead-letter queue")
	// ErrMoveTaskTypeMismatch is returned when the source and destination differ in kind (standard vs FIFO).
	ErrMoveTaskTypeMismatch = errors.New("source and destination queue types do not match")
	// ErrMoveTaskNotFound is returned when a task handle is unknown or the task is no longer running.
	ErrMoveTaskNotFound = errors.New("message move task not found")
	// ErrInvalidParameterValue is returned for out-of-range or inconsistent request parameters.
	ErrInvalidParameterValue = errors.New("invalid parameter value")
	// ErrInvalidAttributeValue is returned for malformed queue attributes.
	ErrInvalidAttributeValue = errors.New("invalid attribute value")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrQueueDoesNotExist, "QueueDoesNotExist"},
	{ErrQueueDeletedRecently, "QueueDeletedRecently"},
	{ErrQueueNameExists, "QueueNameExists"},
	{ErrReceiptHandleExpired, "ReceiptHandleIsInvalid"},
	{ErrInvalidReceiptHandle, "ReceiptHandleIsInvalid"},
	{ErrMessageNotInflight, "MessageNotInflight"},
	{ErrMessageTooLong, "MessageTooLong"},
	{ErrPurgeQueueInProgress, "PurgeQueueInProgress"},
	{ErrMoveTaskAlreadyRunning, "MoveTaskAlreadyRunning"},
	{ErrMoveTaskSourceNotDLQ, "MoveTaskSourceNotDLQ"},
	{ErrMoveTaskTypeMismatch, "MoveTaskTypeMismatch"},
	{ErrMoveTaskNotFound, "ResourceNotFoundException"},
	{ErrInvalidParameterValue, "InvalidParameterValue"},
	{ErrInvalidAttributeValue, "InvalidAttributeValue"},
}

// ErrorCode returns the stable wire code for an engine error, or "" when err
// is not one of the engine's error kinds.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}
