package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tabeth/memq/models"
)

const (
	maxDelaySeconds      = 900
	maxVisibilityTimeout = 43200
)

// sendInput is the part of a send request the engine needs; single and
// batch sends both reduce to it.
type sendInput struct {
	body     string
	attrs    map[string]models.MessageAttributeValue
	sysAttrs map[string]models.MessageSystemAttributeValue
	delay    *int32
	groupID  *string
	dedupID  *string
}

// SendMessage stores a message, or for FIFO queues returns the original
// message when the deduplication id was seen within the last five minutes.
func (s *MemoryStore) SendMessage(ctx context.Context, queueName string, message *models.SendMessageRequest) (*models.SendMessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return nil, err
	}
	return s.send(q, sendInput{
		body:     message.MessageBody,
		attrs:    message.MessageAttributes,
		sysAttrs: message.MessageSystemAttributes,
		delay:    message.DelaySeconds,
		groupID:  message.MessageGroupId,
		dedupID:  message.MessageDeduplicationId,
	})
}

// SendMessageBatch sends each entry independently. Entry failures are
// reported in the response; only a missing queue fails the whole call.
func (s *MemoryStore) SendMessageBatch(ctx context.Context, queueName string, req *models.SendMessageBatchRequest) (*models.SendMessageBatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return nil, err
	}
	resp := &models.SendMessageBatchResponse{
		Successful: []models.SendMessageBatchResultEntry{},
		Failed:     []models.BatchResultErrorEntry{},
	}
	for _, e := range req.Entries {
		out, err := s.send(q, sendInput{
			body:     e.MessageBody,
			attrs:    e.MessageAttributes,
			sysAttrs: e.MessageSystemAttributes,
			delay:    e.DelaySeconds,
			groupID:  e.MessageGroupId,
			dedupID:  e.MessageDeduplicationId,
		})
		if err != nil {
			resp.Failed = append(resp.Failed, batchError(e.Id, err))
			continue
		}
		resp.Successful = append(resp.Successful, models.SendMessageBatchResultEntry{
			Id:                           e.Id,
			MessageId:                    out.MessageId,
			MD5OfMessageBody:             out.MD5OfMessageBody,
			MD5OfMessageAttributes:       out.MD5OfMessageAttributes,
			MD5OfMessageSystemAttributes: out.MD5OfMessageSystemAttributes,
			SequenceNumber:               out.SequenceNumber,
		})
	}
	return resp, nil
}

func batchError(id string, err error) models.BatchResultErrorEntry {
	code := ErrorCode(err)
	if code == "" {
		code = "InternalFailure"
	}
	return models.BatchResultErrorEntry{Id: id, Code: code, Message: err.Error(), SenderFault: code != "InternalFailure"}
}

func (s *MemoryStore) send(q *queue, in sendInput) (*models.SendMessageResponse, error) {
	attrs, err := parseAttributes(in.attrs)
	if err != nil {
		return nil, err
	}
	if size := messageSize(in.body, attrs); size > q.cfg.maximumMessageSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d bytes", ErrMessageTooLong, size, q.cfg.maximumMessageSize)
	}

	var traceHeader string
	if v, ok := in.sysAttrs["AWSTraceHeader"]; ok && v.StringValue != nil {
		traceHeader = *v.StringValue
	}
	groupID := deref(in.groupID)
	dedupID := deref(in.dedupID)

	delay := q.cfg.delay
	if in.delay != nil {
		if *in.delay < 0 || *in.delay > maxDelaySeconds {
			return nil, fmt.Errorf("%w: DelaySeconds must be between 0 and %d", ErrInvalidParameterValue, maxDelaySeconds)
		}
		if q.fifo {
			return nil, fmt.Errorf("%w: per-message DelaySeconds is not supported on FIFO queues", ErrInvalidParameterValue)
		}
		delay = time.Duration(*in.delay) * time.Second
	}

	now := s.sched.Now()
	s.expire(q, now)

	var dedupKey string
	if q.fifo {
		if groupID == "" {
			return nil, fmt.Errorf("%w: MessageGroupId is required for FIFO queues", ErrInvalidParameterValue)
		}
		if dedupID == "" {
			if !q.cfg.contentBasedDedup {
				return nil, fmt.Errorf("%w: MessageDeduplicationId is required when ContentBasedDeduplication is disabled", ErrInvalidParameterValue)
			}
			dedupID = contentDedupID(in.body, attrs)
		}
		dedupKey = q.dedupKey(groupID, dedupID)
		if e, ok := q.lookupDedup(dedupKey, now); ok {
			return sendResponse(e.messageID, e.sequenceNumber, e.md5Body, e.md5Attrs, e.md5SysAttrs), nil
		}
	} else if dedupID != "" {
		return nil, fmt.Errorf("%w: MessageDeduplicationId is only valid for FIFO queues", ErrInvalidParameterValue)
	}

	m := &message{
		id:          uuid.NewString(),
		body:        in.body,
		attrs:       attrs,
		md5Body:     md5Hex([]byte(in.body)),
		md5Attrs:    attributesDigest(attrs),
		md5SysAttrs: traceHeaderDigest(traceHeader),
		traceHeader: traceHeader,
		senderID:    s.accountID,
		groupID:     groupID,
		sentAt:      now,
		availableAt: now.Add(delay),
	}
	if q.fifo {
		q.seq++
		m.sequenceNumber = q.seq
		m.dedupID = dedupID
		q.recordDedup(dedupKey, m, now)
	}
	q.push(m)
	if delay > 0 {
		s.scheduleWake(q, m, m.availableAt)
	} else {
		q.wake()
	}
	s.metrics.SentTotal.WithLabelValues(q.name).Inc()

	return sendResponse(m.id, m.sequenceNumber, m.md5Body, m.md5Attrs, m.md5SysAttrs), nil
}

func sendResponse(id string, seq uint64, md5Body, md5Attrs, md5SysAttrs string) *models.SendMessageResponse {
	resp := &models.SendMessageResponse{MessageId: id, MD5OfMessageBody: md5Body}
	if md5Attrs != "" {
		resp.MD5OfMessageAttributes = &md5Attrs
	}
	if md5SysAttrs != "" {
		resp.MD5OfMessageSystemAttributes = &md5SysAttrs
	}
	if seq != 0 {
		n := formatSequence(seq)
		resp.SequenceNumber = &n
	}
	return resp
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// DeleteMessage deletes the message delivered with receiptHandle. Deleting
// again with the same handle succeeds as long as the id was not reused.
func (s *MemoryStore) DeleteMessage(ctx context.Context, queueName string, receiptHandle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	return s.deleteMessage(q, receiptHandle)
}

func (s *MemoryStore) deleteMessage(q *queue, receiptHandle string) error {
	id, nonce, err := decodeReceiptHandle(receiptHandle)
	if err != nil {
		return err
	}
	now := s.sched.Now()
	s.expire(q, now)

	m, ok := q.byID[id]
	if !ok {
		if t, ok := q.tombstones[id]; ok && t.nonce == nonce {
			return nil
		}
		return fmt.Errorf("%w: no message for handle", ErrInvalidReceiptHandle)
	}
	if m.nonce != nonce {
		return fmt.Errorf("%w: handle belongs to an earlier delivery", ErrInvalidReceiptHandle)
	}
	if q.fifo && m.state(now) != stateInFlight {
		return fmt.Errorf("%w: visibility timeout elapsed", ErrReceiptHandleExpired)
	}

	s.removeMessage(q, m)
	q.tombstones[id] = tombstone{nonce: nonce, deletedAt: now}
	if q.fifo {
		// The message's group is unblocked.
		q.wake()
	}
	s.metrics.DeletedTotal.WithLabelValues(q.name).Inc()
	return nil
}

func (s *MemoryStore) DeleteMessageBatch(ctx context.Context, queueName string, entries []models.DeleteMessageBatchRequestEntry) (*models.DeleteMessageBatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return nil, err
	}
	resp := &models.DeleteMessageBatchResponse{
		Successful: []models.DeleteMessageBatchResultEntry{},
		Failed:     []models.BatchResultErrorEntry{},
	}
	for _, e := range entries {
		if err := s.deleteMessage(q, e.ReceiptHandle); err != nil {
			resp.Failed = append(resp.Failed, batchError(e.Id, err))
			continue
		}
		resp.Successful = append(resp.Successful, models.DeleteMessageBatchResultEntry{Id: e.Id})
	}
	return resp, nil
}

// ChangeMessageVisibility moves the visibility deadline of an in-flight
// message to now + visibilityTimeout seconds. Zero makes it receivable
// immediately.
func (s *MemoryStore) ChangeMessageVisibility(ctx context.Context, queueName string, receiptHandle string, visibilityTimeout int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	return s.changeVisibility(q, receiptHandle, visibilityTimeout)
}

func (s *MemoryStore) changeVisibility(q *queue, receiptHandle string, visibilityTimeout int) error {
	if visibilityTimeout < 0 || visibilityTimeout > maxVisibilityTimeout {
		return fmt.Errorf("%w: VisibilityTimeout must be between 0 and %d", ErrInvalidParameterValue, maxVisibilityTimeout)
	}
	id, nonce, err := decodeReceiptHandle(receiptHandle)
	if err != nil {
		return err
	}
	now := s.sched.Now()
	s.expire(q, now)

	m, ok := q.byID[id]
	if !ok || m.nonce != nonce {
		return fmt.Errorf("%w: handle does not match a current delivery", ErrInvalidReceiptHandle)
	}
	if m.state(now) != stateInFlight {
		if q.fifo {
			return fmt.Errorf("%w: visibility timeout elapsed", ErrReceiptHandleExpired)
		}
		return fmt.Errorf("%w: %s", ErrMessageNotInflight, id)
	}

	m.visibleAt = now.Add(time.Duration(visibilityTimeout) * time.Second)
	if visibilityTimeout == 0 {
		s.cancelWake(m)
		q.wake()
		return nil
	}
	s.scheduleWake(q, m, m.visibleAt)
	return nil
}

func (s *MemoryStore) ChangeMessageVisibilityBatch(ctx context.Context, queueName string, entries []models.ChangeMessageVisibilityBatchRequestEntry) (*models.ChangeMessageVisibilityBatchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return nil, err
	}
	resp := &models.ChangeMessageVisibilityBatchResponse{
		Successful: []models.ChangeMessageVisibilityBatchResultEntry{},
		Failed:     []models.BatchResultErrorEntry{},
	}
	for _, e := range entries {
		if err := s.changeVisibility(q, e.ReceiptHandle, e.VisibilityTimeout); err != nil {
			resp.Failed = append(resp.Failed, batchError(e.Id, err))
			continue
		}
		resp.Successful = append(resp.Successful, models.ChangeMessageVisibilityBatchResultEntry{Id: e.Id})
	}
	return resp, nil
}
