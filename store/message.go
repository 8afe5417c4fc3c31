package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/tabeth/memq/models"
	"github.com/tabeth/memq/store/schedule"
)

// AttributeKind is the transport type of a user message attribute.
type AttributeKind int

const (
	KindString AttributeKind = iota + 1
	KindNumber
	KindBinary
)

func (k AttributeKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBinary:
		return "Binary"
	}
	return "Unknown"
}

// AttributeValue is a typed user message attribute. CustomType carries the
// free-form suffix of data types such as "Number.float" or "Binary.gif".
type AttributeValue struct {
	Kind        AttributeKind
	CustomType  string
	StringValue string
	BinaryValue []byte
}

// DataType renders the wire data type, e.g. "String" or "Number.int".
func (v AttributeValue) DataType() string {
	if v.CustomType == "" {
		return v.Kind.String()
	}
	return v.Kind.String() + "." + v.CustomType
}

func (v AttributeValue) size() int {
	n := len(v.DataType())
	if v.Kind == KindBinary {
		return n + len(v.BinaryValue)
	}
	return n + len(v.StringValue)
}

func (v AttributeValue) toModel() models.MessageAttributeValue {
	out := models.MessageAttributeValue{DataType: v.DataType()}
	if v.Kind == KindBinary {
		out.BinaryValue = append([]byte(nil), v.BinaryValue...)
	} else {
		s := v.StringValue
		out.StringValue = &s
	}
	return out
}

// ParseAttributeValue converts a wire attribute into its typed form.
func ParseAttributeValue(m models.MessageAttributeValue) (AttributeValue, error) {
	base, custom, _ := strings.Cut(m.DataType, ".")
	var v AttributeValue
	switch base {
	case "String":
		v.Kind = KindString
	case "Number":
		v.Kind = KindNumber
	case "Binary":
		v.Kind = KindBinary
	default:
		return v, fmt.Errorf("%w: unsupported data type %q", ErrInvalidParameterValue, m.DataType)
	}
	v.CustomType = custom

	if v.Kind == KindBinary {
		if m.BinaryValue == nil {
			return v, fmt.Errorf("%w: binary attribute requires BinaryValue", ErrInvalidParameterValue)
		}
		v.BinaryValue = append([]byte(nil), m.BinaryValue...)
		return v, nil
	}
	if m.StringValue == nil {
		return v, fmt.Errorf("%w: %s attribute requires StringValue", ErrInvalidParameterValue, base)
	}
	v.StringValue = *m.StringValue
	return v, nil
}

func parseAttributes(in map[string]models.MessageAttributeValue) (map[string]AttributeValue, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]AttributeValue, len(in))
	for name, m := range in {
		v, err := ParseAttributeValue(m)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// messageState is derived from timestamps on every access; nothing flips it.
type messageState int

const (
	stateAvailable messageState = iota
	stateDelayed
	stateInFlight
)

// message is the engine's record of one stored message.
type message struct {
	id          string
	body        string
	attrs       map[string]AttributeValue
	md5Body     string
	md5Attrs    string
	md5SysAttrs string
	traceHeader string
	senderID    string

	groupID        string
	dedupID        string
	sequenceNumber uint64

	sentAt          time.Time
	availableAt     time.Time
	firstReceivedAt time.Time
	visibleAt       time.Time
	receiveCount    int
	// nonce identifies the current delivery; empty until the first receive.
	nonce string
	// dlqSourceArn is set when the message was redriven into a dead-letter queue.
	dlqSourceArn string

	wake    schedule.Token
	hasWake bool
}

func (m *message) state(now time.Time) messageState {
	if m.nonce != "" && now.Before(m.visibleAt) {
		return stateInFlight
	}
	if now.Before(m.availableAt) {
		return stateDelayed
	}
	return stateAvailable
}

func messageSize(body string, attrs map[string]AttributeValue) int {
	n := len(body)
	for name, v := range attrs {
		n += len(name) + v.size()
	}
	return n
}

// systemAttributes renders the system attributes of m, filtered by names.
// "All" selects everything.
func (m *message) systemAttributes(names []string) map[string]string {
	all := map[string]string{
		"SenderId":                         m.senderID,
		"SentTimestamp":                    millis(m.sentAt),
		"ApproximateReceiveCount":          fmt.Sprintf("%d", m.receiveCount),
		"ApproximateFirstReceiveTimestamp": millis(m.firstReceivedAt),
	}
	if m.traceHeader != "" {
		all["AWSTraceHeader"] = m.traceHeader
	}
	if m.groupID != "" {
		all["MessageGroupId"] = m.groupID
	}
	if m.dedupID != "" {
		all["MessageDeduplicationId"] = m.dedupID
	}
	if m.sequenceNumber != 0 {
		all["SequenceNumber"] = formatSequence(m.sequenceNumber)
	}
	if m.dlqSourceArn != "" {
		all["DeadLetterQueueSourceArn"] = m.dlqSourceArn
	}

	out := make(map[string]string)
	for _, name := range names {
		if name == "All" {
			return all
		}
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return out
}

// userAttributes renders the user attributes of m matching names. A name may be
// "All", ".*", an exact attribute name, or a "prefix.*" wildcard.
func (m *message) userAttributes(names []string) map[string]models.MessageAttributeValue {
	if len(m.attrs) == 0 || len(names) == 0 {
		return nil
	}
	out := make(map[string]models.MessageAttributeValue)
	for attr, v := range m.attrs {
		for _, name := range names {
			if matchAttributeName(name, attr) {
				out[attr] = v.toModel()
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func matchAttributeName(pattern, name string) bool {
	switch {
	case pattern == "All" || pattern == ".*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == name
	}
}

func millis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", t.UnixMilli())
}

func formatSequence(n uint64) string {
	return fmt.Sprintf("%020d", n)
}
