package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tabeth/memq/models"
)

// SQS queue name validation regex, based on the official AWS SQS documentation.
// A queue name can have up to 80 characters.
// Valid values: alphanumeric characters, hyphens (-), and underscores (_).
// For FIFO queues, the name must end with the .fifo suffix.
var queueNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,80}(\.fifo)?$`)
var arnRegex = regexp.MustCompile(`^arn:aws:sqs:[a-z0-9-]+:[0-9]+:[a-zA-Z0-9_-]{1,80}(\.fifo)?$`)
var labelRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,80}$`)
var awsAccountIDRegex = regexp.MustCompile(`^\d{12}$`)
var attributeNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

var errUnknownAttribute = errors.New("unknown attribute")

const (
	maxBatchEntries  = 10
	maxPayloadBytes  = 256 * 1024
	maxReceiveCount  = 1000
	maxAttributeKeys = 10
)

// validateIntAttribute is a helper for checking if a string can be parsed as an integer
// and falls within a specified min/max range.
func validateIntAttribute(valStr string, min, max int) error {
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if val < min || val > max {
		return fmt.Errorf("must be between %d and %d", min, max)
	}
	return nil
}

func validateBoolAttribute(val string) error {
	if val != "true" && val != "false" {
		return fmt.Errorf("must be 'true' or 'false'")
	}
	return nil
}

// ValidateAttributes performs the range and format checks for SQS queue attributes.
// An empty RedrivePolicy, RedriveAllowPolicy or Policy is accepted: on
// SetQueueAttributes it removes the setting.
func ValidateAttributes(attributes map[string]string) error {
	for key, val := range attributes {
		var err error
		switch key {
		case "DelaySeconds":
			err = validateIntAttribute(val, 0, 900)
		case "MaximumMessageSize":
			err = validateIntAttribute(val, 1024, 262144)
		case "MessageRetentionPeriod":
			err = validateIntAttribute(val, 60, 1209600)
		case "ReceiveMessageWaitTimeSeconds":
			err = validateIntAttribute(val, 0, 20)
		case "VisibilityTimeout":
			err = validateIntAttribute(val, 0, 43200)
		case "FifoQueue", "ContentBasedDeduplication", "SqsManagedSseEnabled":
			err = validateBoolAttribute(val)
		case "RedrivePolicy":
			if val != "" {
				err = validateRedrivePolicy(val)
			}
		case "RedriveAllowPolicy":
			if val != "" {
				err = validateRedriveAllowPolicy(val)
			}
		case "DeduplicationScope":
			if val != "messageGroup" && val != "queue" {
				err = fmt.Errorf("must be 'messageGroup' or 'queue'")
			}
		case "FifoThroughputLimit":
			if val != "perQueue" && val != "perMessageGroupId" {
				err = fmt.Errorf("must be 'perQueue' or 'perMessageGroupId'")
			}
		case "Policy":
			if val != "" && !json.Valid([]byte(val)) {
				err = errors.New("must be a valid JSON object")
			}
		case "KmsMasterKeyId":
			if len(strings.TrimSpace(val)) == 0 {
				err = errors.New("must not be empty")
			}
		case "KmsDataKeyReusePeriodSeconds":
			err = validateIntAttribute(val, 60, 86400)
		default:
			return fmt.Errorf("%w: %s", errUnknownAttribute, key)
		}
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// validateRedrivePolicy accepts maxReceiveCount as a number or a numeric string.
func validateRedrivePolicy(val string) error {
	var policy struct {
		DeadLetterTargetArn string      `json:"deadLetterTargetArn"`
		MaxReceiveCount     json.Number `json:"maxReceiveCount"`
	}
	if err := json.Unmarshal([]byte(val), &policy); err != nil {
		return errors.New("must be a valid JSON object")
	}
	if !arnRegex.MatchString(policy.DeadLetterTargetArn) {
		return errors.New("deadLetterTargetArn must be a queue ARN")
	}
	if count, err := strconv.Atoi(policy.MaxReceiveCount.String()); err != nil || count < 1 || count > maxReceiveCount {
		return fmt.Errorf("maxReceiveCount must be an integer between 1 and %d", maxReceiveCount)
	}
	return nil
}

func validateRedriveAllowPolicy(val string) error {
	var policy struct {
		RedrivePermission string   `json:"redrivePermission"`
		SourceQueueArns   []string `json:"sourceQueueArns"`
	}
	if err := json.Unmarshal([]byte(val), &policy); err != nil {
		return errors.New("must be a valid JSON object")
	}
	switch policy.RedrivePermission {
	case "allowAll", "denyAll":
		return nil
	case "byQueue":
		if len(policy.SourceQueueArns) == 0 || len(policy.SourceQueueArns) > 10 {
			return errors.New("sourceQueueArns must list between 1 and 10 queues when redrivePermission is byQueue")
		}
		for _, arn := range policy.SourceQueueArns {
			if !arnRegex.MatchString(arn) {
				return fmt.Errorf("invalid sourceQueueArn: %s", arn)
			}
		}
		return nil
	default:
		return errors.New("redrivePermission must be one of: allowAll, denyAll, byQueue")
	}
}

// IsSqsMessageBodyValid checks if the message body contains only allowed SQS characters.
// Allowed: #x9 | #xA | #xD | #x20 to #xD7FF | #xE000 to #xFFFD | #x10000 to #x10FFFF
func IsSqsMessageBodyValid(body string) bool {
	for _, r := range body {
		if (r == 0x9 || r == 0xA || r == 0xD) ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			continue
		}
		return false
	}
	return true
}

// validMessageSystemAttributeNames is a set of the allowed system attribute names for messages.
var validMessageSystemAttributeNames = map[string]bool{
	"All":                              true,
	"SenderId":                         true,
	"SentTimestamp":                    true,
	"ApproximateReceiveCount":          true,
	"ApproximateFirstReceiveTimestamp": true,
	"SequenceNumber":                   true,
	"MessageDeduplicationId":           true,
	"MessageGroupId":                   true,
	"AWSTraceHeader":                   true,
	"DeadLetterQueueSourceArn":         true,
}

// isValidMessageAttributeName validates the format of a custom message attribute name against SQS rules.
// Receive filters may additionally use "All", ".*" and "prefix.*".
func isValidMessageAttributeName(name string, filter bool) bool {
	if filter {
		if name == "All" || name == ".*" {
			return true
		}
		if strings.HasSuffix(name, ".*") {
			name = strings.TrimSuffix(name, ".*")
		}
	}
	if len(name) == 0 || len(name) > 256 {
		return false
	}
	// Custom attributes cannot start with "aws." or "amazon.".
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "aws.") || strings.HasPrefix(lower, "amazon.") {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return false
	}
	return attributeNameRegex.MatchString(name)
}

// isValidSqsChars checks if a string contains only valid SQS characters.
// This is used for parameters like MessageDeduplicationId and MessageGroupId.
// Valid characters are alphanumeric and: !"#$%&'()*+,-./:;<=>?@[\]^_`{|}~
func isValidSqsChars(s string) bool {
	for _, r := range s {
		isAlphanumeric := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		isPunctuation := strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r)
		if !isAlphanumeric && !isPunctuation {
			return false
		}
	}
	return true
}

// batchEntryError describes a batch-level rejection.
type batchEntryError struct {
	code    string
	message string
}

// validateBatchIds applies the batch-level rules shared by every *Batch
// action: 1 to 10 entries with distinct, well-formed ids.
func validateBatchIds(ids []string) *batchEntryError {
	if len(ids) == 0 {
		return &batchEntryError{"EmptyBatchRequest", "The batch request doesn't contain any entries."}
	}
	if len(ids) > maxBatchEntries {
		return &batchEntryError{"TooManyEntriesInBatchRequest", "The batch request contains more entries than permissible."}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if len(id) == 0 || len(id) > 80 || !isValidSqsChars(id) {
			return &batchEntryError{"InvalidBatchEntryId", "The Id of a batch entry in a batch request doesn't abide by the specification."}
		}
		if _, exists := seen[id]; exists {
			return &batchEntryError{"BatchEntryIdsNotDistinct", "Two or more batch entries in the request have the same Id."}
		}
		seen[id] = struct{}{}
	}
	return nil
}

// validateMessageParams checks the parts of a send that do not depend on
// queue state. It returns an error code and message, or "" when valid.
func validateMessageParams(body string, groupID, dedupID *string, attrs map[string]models.MessageAttributeValue, sysAttrs map[string]models.MessageSystemAttributeValue) (string, string) {
	if len(body) == 0 {
		return "MissingParameter", "The request must contain the parameter MessageBody."
	}
	if !IsSqsMessageBodyValid(body) {
		return "InvalidMessageContents", "The message contains characters outside the allowed set."
	}
	for _, p := range []struct {
		name string
		val  *string
	}{{"MessageGroupId", groupID}, {"MessageDeduplicationId", dedupID}} {
		if p.val == nil {
			continue
		}
		if len(*p.val) == 0 || len(*p.val) > 128 {
			return "InvalidParameterValue", p.name + " can be up to 128 characters long."
		}
		if !isValidSqsChars(*p.val) {
			return "InvalidParameterValue", p.name + " can only contain alphanumeric characters and punctuation."
		}
	}
	if len(attrs) > maxAttributeKeys {
		return "InvalidParameterValue", fmt.Sprintf("Number of message attributes cannot exceed %d.", maxAttributeKeys)
	}
	for name, attr := range attrs {
		if !isValidMessageAttributeName(name, false) {
			return "InvalidParameterValue", "Message attribute name '" + name + "' is invalid."
		}
		if attr.DataType == "" {
			return "InvalidParameterValue", "DataType of message attribute '" + name + "' is required."
		}
	}
	for name, attr := range sysAttrs {
		if name != "AWSTraceHeader" {
			return "InvalidParameterValue", "'" + name + "' is not a valid message system attribute."
		}
		if attr.DataType != "String" {
			return "InvalidParameterValue", "DataType of AWSTraceHeader must be String."
		}
	}
	return "", ""
}
