package store

import (
	"time"

	"github.com/tabeth/memq/models"
)

// dedupEntry remembers a stored FIFO message so that repeated sends inside
// the deduplication window observe the original.
type dedupEntry struct {
	messageID      string
	sequenceNumber uint64
	md5Body        string
	md5Attrs       string
	md5SysAttrs    string
	expiresAt      time.Time
}

func (q *queue) dedupKey(groupID, dedupID string) string {
	if q.cfg.dedupScope == "messageGroup" {
		return groupID + "\x00" + dedupID
	}
	return dedupID
}

func (q *queue) lookupDedup(key string, now time.Time) (dedupEntry, bool) {
	e, ok := q.dedup[key]
	if !ok || !now.Before(e.expiresAt) {
		return dedupEntry{}, false
	}
	return e, true
}

func (q *queue) recordDedup(key string, m *message, now time.Time) {
	q.dedup[key] = dedupEntry{
		messageID:      m.id,
		sequenceNumber: m.sequenceNumber,
		md5Body:        m.md5Body,
		md5Attrs:       m.md5Attrs,
		md5SysAttrs:    m.md5SysAttrs,
		expiresAt:      now.Add(dedupWindow),
	}
}

// blockedGroups returns the FIFO groups that cannot deliver right now: a
// group is blocked while any of its messages is in flight, or while its
// oldest message is still delayed.
func (q *queue) blockedGroups(now time.Time) map[string]bool {
	blocked := make(map[string]bool)
	seen := make(map[string]bool)
	for _, m := range q.messages {
		st := m.state(now)
		if st == stateInFlight {
			blocked[m.groupID] = true
		}
		if !seen[m.groupID] {
			seen[m.groupID] = true
			if st != stateAvailable {
				blocked[m.groupID] = true
			}
		}
	}
	return blocked
}

// receiveAttempt remembers the deliveries of a FIFO receive made with a
// ReceiveRequestAttemptId, so a retry of that receive returns them again.
type receiveAttempt struct {
	messageIDs []string
	handles    []string
	expiresAt  time.Time
}

func (q *queue) recordAttempt(attemptID string, msgs []models.ResponseMessage, now time.Time) {
	if attemptID == "" || len(msgs) == 0 {
		return
	}
	a := receiveAttempt{expiresAt: now.Add(dedupWindow)}
	for _, m := range msgs {
		a.messageIDs = append(a.messageIDs, m.MessageId)
		a.handles = append(a.handles, m.ReceiptHandle)
	}
	q.attempts[attemptID] = a
}

// replayAttempt returns the messages of an earlier receive with the same
// attempt id that are still in flight under the receipt handles it issued.
// Deleted messages and messages received again since are left out.
func (q *queue) replayAttempt(attemptID string, now time.Time) []*message {
	a, ok := q.attempts[attemptID]
	if !ok || !now.Before(a.expiresAt) {
		return nil
	}
	var out []*message
	for i, id := range a.messageIDs {
		m, ok := q.byID[id]
		if !ok || m.state(now) != stateInFlight || encodeReceiptHandle(m.id, m.nonce) != a.handles[i] {
			continue
		}
		out = append(out, m)
	}
	return out
}
