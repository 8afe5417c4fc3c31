package store

import (
	"time"

	"go.uber.org/zap"
)

// redrive moves m to q's dead-letter queue instead of delivering it when
// this delivery would exceed maxReceiveCount. It reports whether the
// message was moved. An unresolvable or refusing dead-letter queue leaves
// the message to be delivered normally.
func (s *MemoryStore) redrive(q *queue, m *message, now time.Time) bool {
	p := q.cfg.redrive
	if p == nil || m.receiveCount+1 <= p.MaxReceiveCount {
		return false
	}
	dlq, err := s.reg.byArn(p.DeadLetterTargetArn)
	if err != nil || dlq == q {
		s.logger.Warn("dead-letter queue unavailable, delivering message",
			zap.String("queue", q.name),
			zap.String("dlq", p.DeadLetterTargetArn),
			zap.String("message_id", m.id))
		return false
	}
	if !dlq.cfg.redriveAllow.allows(q.arn) {
		s.logger.Warn("dead-letter queue does not allow this source, delivering message",
			zap.String("queue", q.name),
			zap.String("dlq", dlq.name),
			zap.String("message_id", m.id))
		return false
	}

	s.transplant(q, dlq, m, now, q.arn)
	s.metrics.RedriveTotal.WithLabelValues(q.name, dlq.name).Inc()
	s.logger.Info("message moved to dead-letter queue",
		zap.String("queue", q.name),
		zap.String("dlq", dlq.name),
		zap.String("message_id", m.id),
		zap.Int("receive_count", m.receiveCount))
	return true
}

// transplant removes m from one queue and stores a copy in another as an
// available message. The copy keeps id, body, attributes and send time;
// its receive history is reset. sourceArn is recorded as the
// DeadLetterQueueSourceArn, or cleared when empty.
func (s *MemoryStore) transplant(from, to *queue, m *message, now time.Time, sourceArn string) *message {
	s.removeMessage(from, m)

	n := &message{
		id:           m.id,
		body:         m.body,
		attrs:        m.attrs,
		md5Body:      m.md5Body,
		md5Attrs:     m.md5Attrs,
		md5SysAttrs:  m.md5SysAttrs,
		traceHeader:  m.traceHeader,
		senderID:     m.senderID,
		groupID:      m.groupID,
		dedupID:      m.dedupID,
		sentAt:       m.sentAt,
		availableAt:  now,
		dlqSourceArn: sourceArn,
	}
	if to.fifo {
		to.seq++
		n.sequenceNumber = to.seq
	}
	to.push(n)
	to.wake()
	return n
}
