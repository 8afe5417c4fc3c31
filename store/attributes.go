package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Queue attribute defaults applied when an attribute is not configured.
const (
	defaultVisibilityTimeout  = 30 * time.Second
	defaultMaximumMessageSize = 262144
	defaultRetentionPeriod    = 4 * 24 * time.Hour
	dedupWindow               = 5 * time.Minute
	purgeCooldown             = 60 * time.Second
)

// settableAttributes are the attributes a caller may configure, and whether
// they are fixed after creation.
var settableAttributes = map[string]bool{
	"DelaySeconds":                  false,
	"MaximumMessageSize":            false,
	"MessageRetentionPeriod":        false,
	"ReceiveMessageWaitTimeSeconds": false,
	"VisibilityTimeout":             false,
	"RedrivePolicy":                 false,
	"RedriveAllowPolicy":            false,
	"Policy":                        false,
	"ContentBasedDeduplication":     false,
	"DeduplicationScope":            false,
	"FifoThroughputLimit":           false,
	"KmsMasterKeyId":                false,
	"KmsDataKeyReusePeriodSeconds":  false,
	"SqsManagedSseEnabled":          false,
	"FifoQueue":                     true,
}

type redrivePolicy struct {
	DeadLetterTargetArn string
	MaxReceiveCount     int
}

type redriveAllowPolicy struct {
	RedrivePermission string   `json:"redrivePermission"`
	SourceQueueArns   []string `json:"sourceQueueArns"`
}

// allows reports whether a dead-letter queue with this policy accepts
// messages from sourceArn.
func (p *redriveAllowPolicy) allows(sourceArn string) bool {
	if p == nil {
		return true
	}
	switch p.RedrivePermission {
	case "denyAll":
		return false
	case "byQueue":
		for _, arn := range p.SourceQueueArns {
			if arn == sourceArn {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// queueConfig is the parsed, typed view of a queue's attribute set.
type queueConfig struct {
	visibilityTimeout  time.Duration
	maximumMessageSize int
	retentionPeriod    time.Duration
	delay              time.Duration
	receiveWait        time.Duration
	redrive            *redrivePolicy
	redriveAllow       *redriveAllowPolicy
	contentBasedDedup  bool
	dedupScope         string
	throughputLimit    string
}

func defaultQueueConfig() queueConfig {
	return queueConfig{
		visibilityTimeout:  defaultVisibilityTimeout,
		maximumMessageSize: defaultMaximumMessageSize,
		retentionPeriod:    defaultRetentionPeriod,
		dedupScope:         "queue",
		throughputLimit:    "perQueue",
	}
}

// parseQueueConfig builds a queueConfig from raw attribute strings. Range
// checks belong to the protocol layer; this only rejects values it cannot
// interpret.
func parseQueueConfig(attrs map[string]string) (queueConfig, error) {
	cfg := defaultQueueConfig()
	for name, val := range attrs {
		if err := cfg.apply(name, val); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidAttributeValue, name, err)
		}
	}
	return cfg, nil
}

func (c *queueConfig) apply(name, val string) error {
	switch name {
	case "VisibilityTimeout":
		return parseSeconds(val, &c.visibilityTimeout)
	case "MaximumMessageSize":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		c.maximumMessageSize = n
	case "MessageRetentionPeriod":
		return parseSeconds(val, &c.retentionPeriod)
	case "DelaySeconds":
		return parseSeconds(val, &c.delay)
	case "ReceiveMessageWaitTimeSeconds":
		return parseSeconds(val, &c.receiveWait)
	case "RedrivePolicy":
		if val == "" {
			c.redrive = nil
			return nil
		}
		p, err := parseRedrivePolicy(val)
		if err != nil {
			return err
		}
		c.redrive = p
	case "RedriveAllowPolicy":
		if val == "" {
			c.redriveAllow = nil
			return nil
		}
		var p redriveAllowPolicy
		if err := json.Unmarshal([]byte(val), &p); err != nil {
			return err
		}
		c.redriveAllow = &p
	case "ContentBasedDeduplication":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		c.contentBasedDedup = b
	case "DeduplicationScope":
		c.dedupScope = val
	case "FifoThroughputLimit":
		c.throughputLimit = val
	case "FifoQueue", "Policy", "KmsMasterKeyId", "KmsDataKeyReusePeriodSeconds", "SqsManagedSseEnabled":
		// Stored verbatim; no engine behavior hangs off them.
	default:
		return fmt.Errorf("unknown attribute")
	}
	return nil
}

func parseSeconds(val string, out *time.Duration) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	*out = time.Duration(n) * time.Second
	return nil
}

// parseRedrivePolicy accepts maxReceiveCount as either a JSON number or a
// numeric string, as clients send both.
func parseRedrivePolicy(val string) (*redrivePolicy, error) {
	var raw struct {
		DeadLetterTargetArn string      `json:"deadLetterTargetArn"`
		MaxReceiveCount     json.Number `json:"maxReceiveCount"`
	}
	if err := json.Unmarshal([]byte(val), &raw); err != nil {
		return nil, err
	}
	if raw.DeadLetterTargetArn == "" {
		return nil, fmt.Errorf("deadLetterTargetArn is required")
	}
	n, err := strconv.Atoi(raw.MaxReceiveCount.String())
	if err != nil || n < 1 {
		return nil, fmt.Errorf("maxReceiveCount must be a positive integer")
	}
	return &redrivePolicy{DeadLetterTargetArn: raw.DeadLetterTargetArn, MaxReceiveCount: n}, nil
}

// describe renders the effective configuration as attribute strings.
func (c queueConfig) describe(fifo bool) map[string]string {
	out := map[string]string{
		"VisibilityTimeout":             strconv.Itoa(int(c.visibilityTimeout / time.Second)),
		"MaximumMessageSize":            strconv.Itoa(c.maximumMessageSize),
		"MessageRetentionPeriod":        strconv.Itoa(int(c.retentionPeriod / time.Second)),
		"DelaySeconds":                  strconv.Itoa(int(c.delay / time.Second)),
		"ReceiveMessageWaitTimeSeconds": strconv.Itoa(int(c.receiveWait / time.Second)),
	}
	if fifo {
		out["FifoQueue"] = "true"
		out["ContentBasedDeduplication"] = strconv.FormatBool(c.contentBasedDedup)
		out["DeduplicationScope"] = c.dedupScope
		out["FifoThroughputLimit"] = c.throughputLimit
	}
	return out
}
