package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabeth/memq/models"
)

const (
	maxReceiveBatch = 10
	maxWaitSeconds  = 20
)

type receiveOptions struct {
	max        int
	visibility time.Duration
	sysNames   []string
	userNames  []string
}

// ReceiveMessage delivers up to MaxNumberOfMessages available messages,
// oldest first. When none are available and a wait time applies, the call
// suspends until a send, a visibility or delay expiry, or the end of the
// wait. Cancelling ctx ends the wait with an empty result. On FIFO queues a
// retry with the same ReceiveRequestAttemptId within five minutes returns the
// messages the first call delivered, while they are still in flight.
func (s *MemoryStore) ReceiveMessage(ctx context.Context, queueName string, req *models.ReceiveMessageRequest) (*models.ReceiveMessageResponse, error) {
	opts := receiveOptions{
		max:       1,
		sysNames:  append(append([]string{}, req.AttributeNames...), req.MessageSystemAttributeNames...),
		userNames: req.MessageAttributeNames,
	}
	if req.MaxNumberOfMessages != nil {
		opts.max = *req.MaxNumberOfMessages
		if opts.max < 1 || opts.max > maxReceiveBatch {
			return nil, fmt.Errorf("%w: MaxNumberOfMessages must be between 1 and %d", ErrInvalidParameterValue, maxReceiveBatch)
		}
	}
	if req.VisibilityTimeout != nil && (*req.VisibilityTimeout < 0 || *req.VisibilityTimeout > maxVisibilityTimeout) {
		return nil, fmt.Errorf("%w: VisibilityTimeout must be between 0 and %d", ErrInvalidParameterValue, maxVisibilityTimeout)
	}
	if req.WaitTimeSeconds != nil && (*req.WaitTimeSeconds < 0 || *req.WaitTimeSeconds > maxWaitSeconds) {
		return nil, fmt.Errorf("%w: WaitTimeSeconds must be between 0 and %d", ErrInvalidParameterValue, maxWaitSeconds)
	}

	s.mu.Lock()
	q, err := s.reg.lookup(queueName)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	opts.visibility = q.cfg.visibilityTimeout
	if req.VisibilityTimeout != nil {
		opts.visibility = time.Duration(*req.VisibilityTimeout) * time.Second
	}
	wait := q.cfg.receiveWait
	if req.WaitTimeSeconds != nil {
		wait = time.Duration(*req.WaitTimeSeconds) * time.Second
	}

	attemptID := ""
	if q.fifo {
		attemptID = req.ReceiveRequestAttemptId
	}
	if attemptID != "" {
		now := s.sched.Now()
		s.expire(q, now)
		if replay := q.replayAttempt(attemptID, now); len(replay) > 0 {
			msgs := make([]models.ResponseMessage, len(replay))
			for i, m := range replay {
				msgs[i] = render(m, opts)
			}
			s.mu.Unlock()
			return &models.ReceiveMessageResponse{Messages: msgs}, nil
		}
	}

	msgs := s.collect(q, opts)
	if len(msgs) > 0 || wait == 0 {
		q.recordAttempt(attemptID, msgs, s.sched.Now())
		s.mu.Unlock()
		return &models.ReceiveMessageResponse{Messages: msgs}, nil
	}

	w := newWaiter()
	q.waiters[w] = struct{}{}
	deadline := s.sched.Now().Add(wait)
	tok := s.sched.Schedule(deadline, w.signal)
	s.metrics.Waiters.Inc()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(q.waiters, w)
		s.sched.Cancel(tok)
		s.metrics.Waiters.Dec()
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return &models.ReceiveMessageResponse{Messages: []models.ResponseMessage{}}, nil
		case <-s.done:
			return &models.ReceiveMessageResponse{Messages: []models.ResponseMessage{}}, nil
		case <-w.ch:
		}

		s.mu.Lock()
		if q.pendingDeletion || s.reg.queues[queueName] != q {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s was deleted", ErrQueueDoesNotExist, queueName)
		}
		msgs = s.collect(q, opts)
		q.recordAttempt(attemptID, msgs, s.sched.Now())
		expired := !s.sched.Now().Before(deadline)
		s.mu.Unlock()

		if len(msgs) > 0 || expired {
			return &models.ReceiveMessageResponse{Messages: msgs}, nil
		}
	}
}

// collect selects and delivers messages. Callers hold s.mu.
func (s *MemoryStore) collect(q *queue, opts receiveOptions) []models.ResponseMessage {
	now := s.sched.Now()
	s.expire(q, now)

	var blocked map[string]bool
	if q.fifo {
		blocked = q.blockedGroups(now)
	}

	out := []models.ResponseMessage{}
	candidates := append([]*message(nil), q.messages...)
	for _, m := range candidates {
		if len(out) >= opts.max {
			break
		}
		if m.state(now) != stateAvailable {
			continue
		}
		if q.fifo && blocked[m.groupID] {
			continue
		}
		if s.redrive(q, m, now) {
			continue
		}
		s.deliver(q, m, now, opts.visibility)
		if q.fifo {
			blocked[m.groupID] = true
		}
		out = append(out, render(m, opts))
	}
	return out
}

// deliver marks m in flight and mints a fresh receipt nonce, invalidating
// every handle from earlier deliveries.
func (s *MemoryStore) deliver(q *queue, m *message, now time.Time, visibility time.Duration) {
	m.receiveCount++
	m.nonce = uuid.NewString()
	m.visibleAt = now.Add(visibility)
	if m.firstReceivedAt.IsZero() {
		m.firstReceivedAt = now
	}
	if visibility > 0 {
		s.scheduleWake(q, m, m.visibleAt)
	} else {
		s.cancelWake(m)
	}
	s.metrics.ReceivedTotal.WithLabelValues(q.name).Inc()
}

func render(m *message, opts receiveOptions) models.ResponseMessage {
	out := models.ResponseMessage{
		MessageId:         m.id,
		ReceiptHandle:     encodeReceiptHandle(m.id, m.nonce),
		Body:              m.body,
		MD5OfBody:         m.md5Body,
		Attributes:        m.systemAttributes(opts.sysNames),
		MessageAttributes: m.userAttributes(opts.userNames),
	}
	if m.md5Attrs != "" {
		md5Attrs := m.md5Attrs
		out.MD5OfMessageAttributes = &md5Attrs
	}
	return out
}
