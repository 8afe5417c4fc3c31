package store

import (
	"time"

	"github.com/tabeth/memq/models"
	"github.com/tabeth/memq/store/schedule"
)

type tombstone struct {
	nonce     string
	deletedAt time.Time
}

// waiter is a suspended long-poll receive. Signals never block; a pending
// signal is enough to make the receiver re-scan.
type waiter struct {
	ch chan struct{}
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan struct{}, 1)}
}

func (w *waiter) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

type queue struct {
	name string
	arn  string
	fifo bool

	// attrs holds the attributes as configured; cfg is their parsed form.
	attrs  map[string]string
	cfg    queueConfig
	policy *models.Policy
	tags   map[string]string

	createdAt       time.Time
	modifiedAt      time.Time
	pendingDeletion bool
	deleteTok       schedule.Token
	lastPurgeAt     time.Time

	// messages is kept in send order.
	messages   []*message
	byID       map[string]*message
	tombstones map[string]tombstone
	dedup      map[string]dedupEntry
	attempts   map[string]receiveAttempt
	seq        uint64

	waiters map[*waiter]struct{}
}

func newQueue(name, arn string, fifo bool, now time.Time) *queue {
	return &queue{
		name:       name,
		arn:        arn,
		fifo:       fifo,
		attrs:      make(map[string]string),
		tags:       make(map[string]string),
		createdAt:  now,
		modifiedAt: now,
		byID:       make(map[string]*message),
		tombstones: make(map[string]tombstone),
		dedup:      make(map[string]dedupEntry),
		attempts:   make(map[string]receiveAttempt),
		waiters:    make(map[*waiter]struct{}),
	}
}

func (q *queue) push(m *message) {
	q.messages = append(q.messages, m)
	q.byID[m.id] = m
	delete(q.tombstones, m.id)
}

func (q *queue) drop(m *message) {
	for i, cur := range q.messages {
		if cur == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			break
		}
	}
	if q.byID[m.id] == m {
		delete(q.byID, m.id)
	}
}

// wake signals every suspended receive on the queue.
func (q *queue) wake() {
	for w := range q.waiters {
		w.signal()
	}
}

func (q *queue) counts(now time.Time) (available, inFlight, delayed int) {
	for _, m := range q.messages {
		switch m.state(now) {
		case stateAvailable:
			available++
		case stateInFlight:
			inFlight++
		case stateDelayed:
			delayed++
		}
	}
	return available, inFlight, delayed
}

func (q *queue) oldestAvailable(now time.Time) *message {
	for _, m := range q.messages {
		if m.state(now) == stateAvailable {
			return m
		}
	}
	return nil
}
