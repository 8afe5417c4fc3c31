package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tabeth/memq/models"
	"github.com/tabeth/memq/store/schedule"
)

// DefaultMoveTaskRateCap is the highest MaxNumberOfMessagesPerSecond a move
// task may request, and the rate used when it requests none.
const DefaultMoveTaskRateCap = 500

// Options configures a MemoryStore.
type Options struct {
	// Region and AccountID only shape queue ARNs.
	Region    string
	AccountID string
	// Scheduler drives every timer in the engine. Defaults to the wall clock.
	Scheduler schedule.Scheduler
	Logger    *zap.Logger
	// Registerer receives the engine metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
	// DeleteGracePeriod, when positive, keeps deleted queue names reserved
	// for this long; re-creating one fails with ErrQueueDeletedRecently.
	DeleteGracePeriod time.Duration
	MoveTaskRateCap   int
}

// MemoryStore is an in-memory implementation of the Store interface.
//
// A single mutex serializes every mutation. Long-poll receives and move
// task pacing wait outside the lock on channels signalled by scheduler
// callbacks, so one queue's waiters never hold up another queue.
type MemoryStore struct {
	mu sync.Mutex

	region      string
	accountID   string
	sched       schedule.Scheduler
	logger      *zap.Logger
	metrics     *engineMetrics
	deleteGrace time.Duration
	rateCap     int

	reg           *registry
	tasks         map[string]*moveTask
	tasksBySource map[string][]*moveTask

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty engine.
func NewMemoryStore(opts Options) *MemoryStore {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.AccountID == "" {
		opts.AccountID = "000000000000"
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.MoveTaskRateCap <= 0 {
		opts.MoveTaskRateCap = DefaultMoveTaskRateCap
	}
	return &MemoryStore{
		region:        opts.Region,
		accountID:     opts.AccountID,
		sched:         opts.Scheduler,
		logger:        opts.Logger.Named("store"),
		metrics:       newEngineMetrics(opts.Registerer),
		deleteGrace:   opts.DeleteGracePeriod,
		rateCap:       opts.MoveTaskRateCap,
		reg:           newRegistry(),
		tasks:         make(map[string]*moveTask),
		tasksBySource: make(map[string][]*moveTask),
		done:          make(chan struct{}),
	}
}

// Close stops running move tasks, releases suspended receives and cancels
// pending timers. It waits for move task goroutines to exit.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	for _, q := range s.reg.queues {
		for _, m := range q.messages {
			s.cancelWake(m)
		}
		if q.pendingDeletion {
			s.sched.Cancel(q.deleteTok)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *MemoryStore) arn(name string) string {
	return queueArn(s.region, s.accountID, name)
}

// --- Queue Management ---

// CreateQueue creates a queue. It reports false without error when an
// identical queue already exists.
func (s *MemoryStore) CreateQueue(ctx context.Context, name string, attributes map[string]string, tags map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.reg.queues[name]; ok {
		if q.pendingDeletion {
			return false, fmt.Errorf("%w: %s", ErrQueueDeletedRecently, name)
		}
		current := s.describe(q)
		for k, v := range attributes {
			if k == "Policy" {
				if policy, err := parsePolicy(v); err != nil || !reflect.DeepEqual(policy, q.policy) {
					return false, fmt.Errorf("%w: %s has a different value for %s", ErrQueueNameExists, name, k)
				}
				continue
			}
			if current[k] != v {
				return false, fmt.Errorf("%w: %s has a different value for %s", ErrQueueNameExists, name, k)
			}
		}
		return false, nil
	}

	fifo := strings.HasSuffix(name, ".fifo")
	if v, ok := attributes["FifoQueue"]; ok {
		isFifo, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: FifoQueue: %v", ErrInvalidAttributeValue, err)
		}
		if isFifo != fifo {
			return false, fmt.Errorf("%w: FifoQueue=%s does not match queue name %s", ErrInvalidParameterValue, v, name)
		}
	}
	if !fifo {
		for _, k := range []string{"ContentBasedDeduplication", "DeduplicationScope", "FifoThroughputLimit"} {
			if _, ok := attributes[k]; ok {
				return false, fmt.Errorf("%w: %s is only valid for FIFO queues", ErrInvalidAttributeValue, k)
			}
		}
	}

	cfg, err := parseQueueConfig(attributes)
	if err != nil {
		return false, err
	}
	if err := s.checkRedriveTarget(name, fifo, cfg.redrive); err != nil {
		return false, err
	}
	policy, err := parsePolicy(attributes["Policy"])
	if err != nil {
		return false, err
	}

	q := newQueue(name, s.arn(name), fifo, s.sched.Now())
	q.cfg = cfg
	q.policy = policy
	for k, v := range attributes {
		if k != "Policy" {
			q.attrs[k] = v
		}
	}
	for k, v := range tags {
		q.tags[k] = v
	}
	s.reg.queues[name] = q
	s.reg.link(q)

	s.logger.Info("queue created", zap.String("queue", name), zap.Bool("fifo", fifo))
	return true, nil
}

func (s *MemoryStore) checkRedriveTarget(name string, fifo bool, p *redrivePolicy) error {
	if p == nil {
		return nil
	}
	target, ok := queueNameFromArn(p.DeadLetterTargetArn)
	if !ok {
		return fmt.Errorf("%w: RedrivePolicy: invalid deadLetterTargetArn %q", ErrInvalidParameterValue, p.DeadLetterTargetArn)
	}
	if target == name {
		return fmt.Errorf("%w: RedrivePolicy: a queue cannot be its own dead-letter queue", ErrInvalidParameterValue)
	}
	dlq, err := s.reg.byArn(p.DeadLetterTargetArn)
	if err != nil {
		return fmt.Errorf("%w: RedrivePolicy: dead-letter target does not exist", ErrInvalidParameterValue)
	}
	if dlq.fifo != fifo {
		return fmt.Errorf("%w: RedrivePolicy: dead-letter queue must be the same type as the source queue", ErrInvalidParameterValue)
	}
	return nil
}

func parsePolicy(raw string) (*models.Policy, error) {
	if raw == "" {
		return nil, nil
	}
	var p models.Policy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: Policy: %v", ErrInvalidAttributeValue, err)
	}
	return &p, nil
}

// DeleteQueue removes a queue. Suspended receives on it return
// ErrQueueDoesNotExist.
func (s *MemoryStore) DeleteQueue(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(name)
	if err != nil {
		return err
	}
	for _, m := range q.messages {
		s.cancelWake(m)
	}
	q.messages = nil
	q.byID = make(map[string]*message)
	s.reg.unlink(name)
	q.pendingDeletion = true
	q.wake()
	s.metrics.forgetQueue(name)

	if s.deleteGrace > 0 {
		q.deleteTok = s.sched.Schedule(s.sched.Now().Add(s.deleteGrace), func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.reg.queues[name] == q {
				delete(s.reg.queues, name)
			}
		})
		s.logger.Info("queue deleted", zap.String("queue", name), zap.Duration("grace", s.deleteGrace))
		return nil
	}
	delete(s.reg.queues, name)
	s.logger.Info("queue deleted", zap.String("queue", name))
	return nil
}

// ListQueues lists queue names in lexical order. nextToken is the opaque
// token returned by a previous page.
func (s *MemoryStore) ListQueues(ctx context.Context, maxResults int, nextToken, queueNamePrefix string) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(s.reg.names(queueNamePrefix), maxResults, nextToken)
}

// paginate returns the page of sorted names following the one encoded in
// token. A page is only cut, and a token only returned, when maxResults > 0.
func paginate(names []string, maxResults int, token string) ([]string, string, error) {
	start := 0
	if token != "" {
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid NextToken", ErrInvalidParameterValue)
		}
		last := string(raw)
		for start < len(names) && names[start] <= last {
			start++
		}
	}
	rest := names[start:]
	if maxResults <= 0 || len(rest) <= maxResults {
		return append([]string{}, rest...), "", nil
	}
	page := append([]string{}, rest[:maxResults]...)
	return page, base64.RawURLEncoding.EncodeToString([]byte(page[len(page)-1])), nil
}

// GetQueueAttributes returns the effective attributes of a queue, including
// computed ones such as ApproximateNumberOfMessages.
func (s *MemoryStore) GetQueueAttributes(ctx context.Context, name string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(name)
	if err != nil {
		return nil, err
	}
	now := s.sched.Now()
	s.expire(q, now)
	attrs := s.describe(q)

	available, inFlight, delayed := q.counts(now)
	attrs["ApproximateNumberOfMessages"] = strconv.Itoa(available)
	attrs["ApproximateNumberOfMessagesNotVisible"] = strconv.Itoa(inFlight)
	attrs["ApproximateNumberOfMessagesDelayed"] = strconv.Itoa(delayed)
	attrs["CreatedTimestamp"] = strconv.FormatInt(q.createdAt.Unix(), 10)
	attrs["LastModifiedTimestamp"] = strconv.FormatInt(q.modifiedAt.Unix(), 10)
	attrs["QueueArn"] = q.arn
	return attrs, nil
}

// describe merges the configured attributes over the effective defaults.
func (s *MemoryStore) describe(q *queue) map[string]string {
	attrs := q.cfg.describe(q.fifo)
	for k, v := range q.attrs {
		attrs[k] = v
	}
	if q.policy != nil {
		if b, err := json.Marshal(q.policy); err == nil {
			attrs["Policy"] = string(b)
		}
	}
	return attrs
}

// SetQueueAttributes merges attributes into the queue's configuration. An
// empty RedrivePolicy, RedriveAllowPolicy or Policy removes it.
func (s *MemoryStore) SetQueueAttributes(ctx context.Context, name string, attributes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(name)
	if err != nil {
		return err
	}

	merged := make(map[string]string, len(q.attrs)+len(attributes))
	for k, v := range q.attrs {
		merged[k] = v
	}
	for k, v := range attributes {
		immutable, known := settableAttributes[k]
		if !known {
			return fmt.Errorf("%w: unknown attribute %s", ErrInvalidAttributeValue, k)
		}
		if immutable {
			return fmt.Errorf("%w: %s cannot be changed after creation", ErrInvalidAttributeValue, k)
		}
		if !q.fifo && (k == "ContentBasedDeduplication" || k == "DeduplicationScope" || k == "FifoThroughputLimit") {
			return fmt.Errorf("%w: %s is only valid for FIFO queues", ErrInvalidAttributeValue, k)
		}
		if v == "" && (k == "RedrivePolicy" || k == "RedriveAllowPolicy" || k == "Policy") {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	delete(merged, "Policy")
	cfg, err := parseQueueConfig(merged)
	if err != nil {
		return err
	}
	if err := s.checkRedriveTarget(name, q.fifo, cfg.redrive); err != nil {
		return err
	}
	if raw, ok := attributes["Policy"]; ok {
		policy, err := parsePolicy(raw)
		if err != nil {
			return err
		}
		q.policy = policy
	}

	q.attrs = merged
	q.cfg = cfg
	q.modifiedAt = s.sched.Now()
	s.reg.link(q)
	// A shorter wait or delay may make messages eligible for suspended receives.
	q.wake()
	return nil
}

// GetQueueArn returns the ARN of an existing queue.
func (s *MemoryStore) GetQueueArn(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(name)
	if err != nil {
		return "", err
	}
	return q.arn, nil
}

// PurgeQueue deletes every message in the queue. Purges are limited to one
// per 60 seconds.
func (s *MemoryStore) PurgeQueue(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(name)
	if err != nil {
		return err
	}
	now := s.sched.Now()
	if !q.lastPurgeAt.IsZero() && now.Sub(q.lastPurgeAt) < purgeCooldown {
		return fmt.Errorf("%w: %s was purged less than 60 seconds ago", ErrPurgeQueueInProgress, name)
	}
	for _, m := range q.messages {
		s.cancelWake(m)
	}
	purged := len(q.messages)
	q.messages = nil
	q.byID = make(map[string]*message)
	q.lastPurgeAt = now

	s.logger.Info("queue purged", zap.String("queue", name), zap.Int("messages", purged))
	return nil
}

// --- Permissions ---

// AddPermission adds a statement to the queue policy. The statement Sid is
// the permission label and must be unique.
func (s *MemoryStore) AddPermission(ctx context.Context, queueName string, statement models.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	if q.policy == nil {
		q.policy = &models.Policy{Version: "2012-10-17", Id: q.arn + "/SQSDefaultPolicy"}
	}
	for _, st := range q.policy.Statement {
		if st.Sid == statement.Sid {
			return fmt.Errorf("%w: label %s already exists", ErrInvalidParameterValue, statement.Sid)
		}
	}
	if statement.Effect == "" {
		statement.Effect = "Allow"
	}
	if statement.Resource == "" {
		statement.Resource = q.arn
	}
	q.policy.Statement = append(q.policy.Statement, statement)
	q.modifiedAt = s.sched.Now()
	return nil
}

// RemovePermission removes the statement labelled label.
func (s *MemoryStore) RemovePermission(ctx context.Context, queueName, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	if q.policy != nil {
		for i, st := range q.policy.Statement {
			if st.Sid == label {
				q.policy.Statement = append(q.policy.Statement[:i], q.policy.Statement[i+1:]...)
				if len(q.policy.Statement) == 0 {
					q.policy = nil
				}
				q.modifiedAt = s.sched.Now()
				return nil
			}
		}
	}
	return fmt.Errorf("%w: label %s does not exist", ErrInvalidParameterValue, label)
}

// --- Tagging ---

func (s *MemoryStore) ListQueueTags(ctx context.Context, queueName string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(q.tags))
	for k, v := range q.tags {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) TagQueue(ctx context.Context, queueName string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	for k, v := range tags {
		q.tags[k] = v
	}
	return nil
}

func (s *MemoryStore) UntagQueue(ctx context.Context, queueName string, tagKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.reg.lookup(queueName)
	if err != nil {
		return err
	}
	for _, k := range tagKeys {
		delete(q.tags, k)
	}
	return nil
}

// --- Dead-Letter Queues ---

// ListDeadLetterSourceQueues lists the queues whose RedrivePolicy targets
// queueName, paginated like ListQueues.
func (s *MemoryStore) ListDeadLetterSourceQueues(ctx context.Context, queueName string, maxResults int, nextToken string) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.lookup(queueName); err != nil {
		return nil, "", err
	}
	return paginate(s.reg.sources(queueName), maxResults, nextToken)
}

// --- Message bookkeeping shared by the operations ---

// expire drops messages past the retention period, along with stale
// tombstones, deduplication entries and receive attempts.
func (s *MemoryStore) expire(q *queue, now time.Time) {
	retention := q.cfg.retentionPeriod
	var kept []*message
	for _, m := range q.messages {
		if !now.Before(m.sentAt.Add(retention)) {
			s.cancelWake(m)
			delete(q.byID, m.id)
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) != len(q.messages) {
		q.messages = kept
	}
	for id, t := range q.tombstones {
		if !now.Before(t.deletedAt.Add(retention)) {
			delete(q.tombstones, id)
		}
	}
	for key, e := range q.dedup {
		if !now.Before(e.expiresAt) {
			delete(q.dedup, key)
		}
	}
	for id, a := range q.attempts {
		if !now.Before(a.expiresAt) {
			delete(q.attempts, id)
		}
	}
}

func (s *MemoryStore) removeMessage(q *queue, m *message) {
	s.cancelWake(m)
	q.drop(m)
}

// scheduleWake arranges for q's waiters to be signalled at deadline, when
// m becomes eligible again. It replaces any earlier wake-up for m.
func (s *MemoryStore) scheduleWake(q *queue, m *message, deadline time.Time) {
	s.cancelWake(m)
	m.wake = s.sched.Schedule(deadline, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		q.wake()
	})
	m.hasWake = true
}

func (s *MemoryStore) cancelWake(m *message) {
	if m.hasWake {
		s.sched.Cancel(m.wake)
		m.hasWake = false
	}
}
