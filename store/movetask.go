package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tabeth/memq/models"
)

// Move task statuses.
const (
	TaskRunning    = "RUNNING"
	TaskCancelling = "CANCELLING"
	TaskCancelled  = "CANCELLED"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
)

// FailureNoMessageSource is the failure reason of a task that found a
// message without a resolvable origin queue.
const FailureNoMessageSource = "CouldNotDetermineMessageSource"

type moveTask struct {
	id             string
	handle         string
	sourceArn      string
	destinationArn string
	maxPerSecond   int
	status         string
	moved          int64
	toMove         int64
	failureReason  string
	startedAt      int64

	limiter *rate.Limiter
	// wake interrupts a pacing wait when cancellation is requested.
	wake chan struct{}
}

// StartMessageMoveTask starts draining the dead-letter queue sourceArn into
// destinationArn, or back into each message's original queue when
// destinationArn is empty. maxPerSecond of zero runs at the service cap.
func (s *MemoryStore) StartMessageMoveTask(ctx context.Context, sourceArn, destinationArn string, maxPerSecond int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxPerSecond < 0 || maxPerSecond > s.rateCap {
		return "", fmt.Errorf("%w: MaxNumberOfMessagesPerSecond must be between 1 and %d", ErrInvalidParameterValue, s.rateCap)
	}
	source, err := s.reg.byArn(sourceArn)
	if err != nil {
		return "", err
	}
	if !s.reg.isDLQ(source.name) {
		return "", fmt.Errorf("%w: %s", ErrMoveTaskSourceNotDLQ, source.name)
	}
	for _, t := range s.tasksBySource[sourceArn] {
		if t.status == TaskRunning || t.status == TaskCancelling {
			return "", fmt.Errorf("%w: %s", ErrMoveTaskAlreadyRunning, source.name)
		}
	}
	if destinationArn != "" {
		dest, err := s.reg.byArn(destinationArn)
		if err != nil {
			return "", err
		}
		if dest == source {
			return "", fmt.Errorf("%w: DestinationArn must differ from SourceArn", ErrInvalidParameterValue)
		}
		if dest.fifo != source.fifo {
			return "", fmt.Errorf("%w: %s -> %s", ErrMoveTaskTypeMismatch, source.name, dest.name)
		}
	}

	limit, burst := rate.Limit(maxPerSecond), 1
	if maxPerSecond == 0 {
		limit, burst = rate.Limit(s.rateCap), s.rateCap
	}
	now := s.sched.Now()
	s.expire(source, now)
	available, _, _ := source.counts(now)

	id := uuid.NewString()
	t := &moveTask{
		id:             id,
		handle:         encodeTaskHandle(id, sourceArn),
		sourceArn:      sourceArn,
		destinationArn: destinationArn,
		maxPerSecond:   maxPerSecond,
		status:         TaskRunning,
		toMove:         int64(available),
		startedAt:      now.UnixMilli(),
		limiter:        rate.NewLimiter(limit, burst),
		wake:           make(chan struct{}, 1),
	}
	s.tasks[id] = t
	s.tasksBySource[sourceArn] = append(s.tasksBySource[sourceArn], t)

	s.logger.Info("message move task started",
		zap.String("task_id", id),
		zap.String("source", sourceArn),
		zap.String("destination", destinationArn),
		zap.Int64("to_move", t.toMove))

	s.wg.Add(1)
	go s.runMoveTask(t)
	return t.handle, nil
}

// runMoveTask moves one message per limiter token until the source is
// drained, the task is cancelled, or the store is closed.
func (s *MemoryStore) runMoveTask(t *moveTask) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		now := s.sched.Now()
		if delay := t.limiter.ReserveN(now, 1).DelayFrom(now); delay > 0 {
			tick := newWaiter()
			tok := s.sched.Schedule(now.Add(delay), tick.signal)
			select {
			case <-tick.ch:
			case <-t.wake:
				s.sched.Cancel(tok)
			case <-s.done:
				s.sched.Cancel(tok)
				return
			}
		}

		if s.moveOne(t) {
			return
		}
	}
}

// moveOne performs one drain step and reports whether the task finished.
func (s *MemoryStore) moveOne(t *moveTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.status == TaskCancelling {
		s.finishTask(t, TaskCancelled, "")
		return true
	}
	source, err := s.reg.byArn(t.sourceArn)
	if err != nil {
		s.finishTask(t, TaskFailed, "AWS.SimpleQueueService.NonExistentQueue")
		return true
	}
	now := s.sched.Now()
	s.expire(source, now)
	m := source.oldestAvailable(now)
	if m == nil {
		s.finishTask(t, TaskCompleted, "")
		return true
	}

	destArn := t.destinationArn
	if destArn == "" {
		destArn = m.dlqSourceArn
	}
	dest, err := s.reg.byArn(destArn)
	if err != nil {
		s.finishTask(t, TaskFailed, FailureNoMessageSource)
		return true
	}

	s.transplant(source, dest, m, now, "")
	t.moved++
	s.metrics.MovedTotal.WithLabelValues(source.name).Inc()
	return false
}

func (s *MemoryStore) finishTask(t *moveTask, status, reason string) {
	t.status = status
	t.failureReason = reason
	s.metrics.MoveTasks.WithLabelValues(status).Inc()
	s.logger.Info("message move task finished",
		zap.String("task_id", t.id),
		zap.String("status", status),
		zap.Int64("moved", t.moved),
		zap.String("reason", reason))
}

// CancelMessageMoveTask requests cancellation of a running task and returns
// the number of messages moved so far. The task reaches CANCELLED within
// one drain step.
func (s *MemoryStore) CancelMessageMoveTask(ctx context.Context, taskHandle string) (int64, error) {
	id, sourceArn, err := decodeTaskHandle(taskHandle)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.sourceArn != sourceArn || t.status != TaskRunning {
		return 0, fmt.Errorf("%w: %s", ErrMoveTaskNotFound, taskHandle)
	}
	t.status = TaskCancelling
	select {
	case t.wake <- struct{}{}:
	default:
	}
	s.logger.Info("message move task cancelling", zap.String("task_id", t.id), zap.Int64("moved", t.moved))
	return t.moved, nil
}

// ListMessageMoveTasks returns the tasks of sourceArn, newest first,
// including finished ones. maxResults <= 0 returns them all.
func (s *MemoryStore) ListMessageMoveTasks(ctx context.Context, sourceArn string, maxResults int) ([]models.ListMessageMoveTasksResultEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.byArn(sourceArn); err != nil {
		return nil, err
	}
	tasks := s.tasksBySource[sourceArn]
	out := []models.ListMessageMoveTasksResultEntry{}
	for i := len(tasks) - 1; i >= 0; i-- {
		if maxResults > 0 && len(out) >= maxResults {
			break
		}
		t := tasks[i]
		entry := models.ListMessageMoveTasksResultEntry{
			ApproximateNumberOfMessagesMoved:  t.moved,
			ApproximateNumberOfMessagesToMove: t.toMove,
			DestinationArn:                    t.destinationArn,
			FailureReason:                     t.failureReason,
			MaxNumberOfMessagesPerSecond:      t.maxPerSecond,
			SourceArn:                         t.sourceArn,
			StartedTimestamp:                  t.startedAt,
			Status:                            t.status,
		}
		if t.status == TaskRunning {
			entry.TaskHandle = t.handle
		}
		out = append(out, entry)
	}
	return out, nil
}
