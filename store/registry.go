package store

import (
	"fmt"
	"sort"
	"strings"
)

// registry resolves queue names and ARNs to queues. Queues refer to each
// other (redrive targets, move destinations) by ARN only, resolved here at
// call time.
type registry struct {
	queues map[string]*queue
	// dlqSources maps a dead-letter queue name to the names of the queues
	// whose RedrivePolicy targets it.
	dlqSources map[string]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		queues:     make(map[string]*queue),
		dlqSources: make(map[string]map[string]struct{}),
	}
}

// lookup returns the live queue called name. Queues pending deletion are
// reported as missing.
func (r *registry) lookup(name string) (*queue, error) {
	q, ok := r.queues[name]
	if !ok || q.pendingDeletion {
		return nil, fmt.Errorf("%w: %s", ErrQueueDoesNotExist, name)
	}
	return q, nil
}

func (r *registry) byArn(arn string) (*queue, error) {
	name, ok := queueNameFromArn(arn)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a queue ARN", ErrQueueDoesNotExist, arn)
	}
	q, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if q.arn != arn {
		return nil, fmt.Errorf("%w: %s", ErrQueueDoesNotExist, arn)
	}
	return q, nil
}

// link records source's redrive target in the reverse index, replacing any
// previous one.
func (r *registry) link(source *queue) {
	r.unlink(source.name)
	if source.cfg.redrive == nil {
		return
	}
	dlq, ok := queueNameFromArn(source.cfg.redrive.DeadLetterTargetArn)
	if !ok {
		return
	}
	set, ok := r.dlqSources[dlq]
	if !ok {
		set = make(map[string]struct{})
		r.dlqSources[dlq] = set
	}
	set[source.name] = struct{}{}
}

func (r *registry) unlink(source string) {
	for dlq, set := range r.dlqSources {
		delete(set, source)
		if len(set) == 0 {
			delete(r.dlqSources, dlq)
		}
	}
}

// sources returns the sorted names of live queues that redrive into dlq.
func (r *registry) sources(dlq string) []string {
	var out []string
	for name := range r.dlqSources[dlq] {
		if _, err := r.lookup(name); err == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *registry) isDLQ(name string) bool {
	return len(r.sources(name)) > 0
}

// names returns the sorted names of live queues starting with prefix.
func (r *registry) names(prefix string) []string {
	var out []string
	for name, q := range r.queues {
		if !q.pendingDeletion && strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func queueArn(region, accountID, name string) string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", region, accountID, name)
}

func queueNameFromArn(arn string) (string, bool) {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "sqs" || parts[5] == "" {
		return "", false
	}
	return parts[5], true
}
