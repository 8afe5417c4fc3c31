package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabeth/memq/models"
)

// setupDLQWithMessages creates src -> dlq redrive and lands n messages in
// the dead-letter queue through over-receive.
func setupDLQWithMessages(t *testing.T, n int) (*MemoryStore, func(time.Duration)) {
	t.Helper()
	s, clock := setupTestStore(t)
	mustCreateQueue(t, s, "dlq", nil)
	mustCreateQueue(t, s, "src", map[string]string{
		"RedrivePolicy":     redrivePolicyFor("dlq", 1),
		"VisibilityTimeout": "1",
	})
	for i := 0; i < n; i++ {
		mustSend(t, s, "src", "m")
	}
	require.Len(t, receive(t, s, "src", 10), n)
	clock.Advance(time.Second)
	require.Empty(t, receive(t, s, "src", 10))
	require.Equal(t, "0", attr(t, s, "dlq", "ApproximateNumberOfMessagesNotVisible"))
	return s, clock.Advance
}

func taskStatus(t *testing.T, s *MemoryStore, sourceArn string) models.ListMessageMoveTasksResultEntry {
	t.Helper()
	tasks, err := s.ListMessageMoveTasks(context.Background(), sourceArn, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestMoveTask_CompletesBackToSource(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 3)
	require.Equal(t, "3", attr(t, s, "dlq", "ApproximateNumberOfMessages"))

	handle, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, time.Millisecond)

	task := taskStatus(t, s, testArn("dlq"))
	assert.EqualValues(t, 3, task.ApproximateNumberOfMessagesMoved)
	assert.EqualValues(t, 3, task.ApproximateNumberOfMessagesToMove)
	assert.Empty(t, task.TaskHandle)
	assert.Equal(t, "0", attr(t, s, "dlq", "ApproximateNumberOfMessages"))
	assert.Equal(t, "3", attr(t, s, "src", "ApproximateNumberOfMessages"))

	msgs := receive(t, s, "src", 10)
	require.Len(t, msgs, 3)
	assert.NotContains(t, msgs[0].Attributes, "DeadLetterQueueSourceArn")
	assert.Equal(t, "1", msgs[0].Attributes["ApproximateReceiveCount"])
}

func TestMoveTask_ExplicitDestination(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 2)
	mustCreateQueue(t, s, "replay", nil)

	_, err := s.StartMessageMoveTask(ctx, testArn("dlq"), testArn("replay"), 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, testArn("replay"), taskStatus(t, s, testArn("dlq")).DestinationArn)
	assert.Equal(t, "2", attr(t, s, "replay", "ApproximateNumberOfMessages"))
	assert.Equal(t, "0", attr(t, s, "src", "ApproximateNumberOfMessages"))
}

func TestMoveTask_CancelMidDrain(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 3)

	// One message per second against a clock that does not move: the task
	// moves the first message and then waits for its next token.
	handle, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).ApproximateNumberOfMessagesMoved == 1
	}, 2*time.Second, time.Millisecond)

	moved, err := s.CancelMessageMoveTask(ctx, handle)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCancelled
	}, 2*time.Second, time.Millisecond)
	task := taskStatus(t, s, testArn("dlq"))
	assert.EqualValues(t, 1, task.ApproximateNumberOfMessagesMoved)
	assert.Equal(t, "2", attr(t, s, "dlq", "ApproximateNumberOfMessages"))

	_, err = s.CancelMessageMoveTask(ctx, handle)
	assert.ErrorIs(t, err, ErrMoveTaskNotFound)
}

func TestMoveTask_RateLimitedProgress(t *testing.T) {
	ctx := context.Background()
	s, advance := setupDLQWithMessages(t, 3)

	_, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).ApproximateNumberOfMessagesMoved == 1
	}, 2*time.Second, time.Millisecond)
	// Without the clock moving no further token is granted.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, taskStatus(t, s, testArn("dlq")).ApproximateNumberOfMessagesMoved)

	require.Eventually(t, func() bool {
		advance(time.Second)
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, taskStatus(t, s, testArn("dlq")).ApproximateNumberOfMessagesMoved)
	assert.Equal(t, "3", attr(t, s, "src", "ApproximateNumberOfMessages"))
}

func TestMoveTask_StartValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 1)
	mustCreateQueue(t, s, "plain", nil)
	mustCreateQueue(t, s, "other.fifo", fifoAttrs(nil))

	tests := []struct {
		name    string
		source  string
		dest    string
		rate    int
		wantErr error
	}{
		{"source missing", testArn("missing"), "", 0, ErrQueueDoesNotExist},
		{"source not a dlq", testArn("plain"), "", 0, ErrMoveTaskSourceNotDLQ},
		{"type mismatch", testArn("dlq"), testArn("other.fifo"), 0, ErrMoveTaskTypeMismatch},
		{"destination missing", testArn("dlq"), testArn("missing"), 0, ErrQueueDoesNotExist},
		{"rate above cap", testArn("dlq"), "", DefaultMoveTaskRateCap + 1, ErrInvalidParameterValue},
		{"negative rate", testArn("dlq"), "", -1, ErrInvalidParameterValue},
		{"destination is the source", testArn("dlq"), testArn("dlq"), 0, ErrInvalidParameterValue},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.StartMessageMoveTask(ctx, tc.source, tc.dest, tc.rate)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestMoveTask_OnePerSource(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 3)

	handle, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 1)
	require.NoError(t, err)
	_, err = s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	assert.ErrorIs(t, err, ErrMoveTaskAlreadyRunning)

	_, err = s.CancelMessageMoveTask(ctx, handle)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCancelled
	}, 2*time.Second, time.Millisecond)

	_, err = s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, time.Millisecond)

	tasks, err := s.ListMessageMoveTasks(ctx, testArn("dlq"), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, TaskCompleted, tasks[0].Status, "newest first")
	assert.Equal(t, TaskCancelled, tasks[1].Status)
}

func TestMoveTask_UnknownOriginFails(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 0)
	// Sent directly to the dead-letter queue: no recorded origin.
	mustSend(t, s, "dlq", "orphan")

	_, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskFailed
	}, 2*time.Second, time.Millisecond)

	task := taskStatus(t, s, testArn("dlq"))
	assert.Equal(t, FailureNoMessageSource, task.FailureReason)
	assert.Zero(t, task.ApproximateNumberOfMessagesMoved)
	assert.Equal(t, "1", attr(t, s, "dlq", "ApproximateNumberOfMessages"))
}

func TestMoveTask_EmptySourceCompletes(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 0)

	_, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, time.Millisecond)
	assert.Zero(t, taskStatus(t, s, testArn("dlq")).ApproximateNumberOfMessagesMoved)
}

func TestCancelMessageMoveTask_BadHandle(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.CancelMessageMoveTask(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrMoveTaskNotFound)

	_, err = s.CancelMessageMoveTask(context.Background(), encodeTaskHandle("nope", testArn("dlq")))
	assert.ErrorIs(t, err, ErrMoveTaskNotFound)
}

func TestListMessageMoveTasks_UnknownSource(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.ListMessageMoveTasks(context.Background(), testArn("missing"), 10)
	assert.ErrorIs(t, err, ErrQueueDoesNotExist)
}

func TestMoveTask_ToMoveCountsOnlyAvailable(t *testing.T) {
	ctx := context.Background()
	s, _ := setupDLQWithMessages(t, 3)
	// One message stays in flight in the dead-letter queue.
	require.Len(t, receive(t, s, "dlq", 1), 1)

	_, err := s.StartMessageMoveTask(ctx, testArn("dlq"), "", 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, s, testArn("dlq")).Status == TaskCompleted
	}, 2*time.Second, time.Millisecond)

	task := taskStatus(t, s, testArn("dlq"))
	assert.EqualValues(t, 2, task.ApproximateNumberOfMessagesToMove)
	assert.EqualValues(t, 2, task.ApproximateNumberOfMessagesMoved)
	assert.Equal(t, "1", attr(t, s, "dlq", "ApproximateNumberOfMessagesNotVisible"))
}
