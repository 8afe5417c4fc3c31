package server

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/tabeth/memq/models"
)

// --- Queue Management Handlers ---

// sendAttributeError reports a ValidateAttributes failure with the code SQS
// uses for it.
func (app *App) sendAttributeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnknownAttribute) {
		app.sendErrorResponse(w, "InvalidAttributeName", err.Error(), http.StatusBadRequest)
		return
	}
	app.sendErrorResponse(w, "InvalidAttributeValue", err.Error(), http.StatusBadRequest)
}

// CreateQueueHandler handles requests to create a new queue.
// It performs validation on the queue name and attributes before calling the
// storage layer. Creating a queue that already exists with identical attributes
// succeeds and returns the existing queue's URL.
func (app *App) CreateQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateQueueRequest
	if !app.decode(w, r, &req) {
		return
	}

	// Validate queue name format according to SQS rules.
	if !queueNameRegex.MatchString(req.QueueName) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Invalid queue name: Can only include alphanumeric characters, hyphens, and underscores. 1 to 80 in length.", http.StatusBadRequest)
		return
	}

	// Validate that the FifoQueue attribute is consistent with the queue name's .fifo suffix.
	isFifo := strings.HasSuffix(req.QueueName, ".fifo")
	fifoAttr, fifoAttrExists := req.Attributes["FifoQueue"]
	if isFifo && fifoAttr != "true" {
		app.sendErrorResponse(w, "InvalidParameterValue", "Queue name ends in .fifo but FifoQueue attribute is not 'true'", http.StatusBadRequest)
		return
	}
	if !isFifo && fifoAttrExists && fifoAttr == "true" {
		app.sendErrorResponse(w, "InvalidParameterValue", "FifoQueue attribute is 'true' but queue name does not end in .fifo", http.StatusBadRequest)
		return
	}

	if err := ValidateAttributes(req.Attributes); err != nil {
		app.sendAttributeError(w, err)
		return
	}

	// Validate inter-dependencies between FIFO attributes.
	if limit := req.Attributes["FifoThroughputLimit"]; limit == "perMessageGroupId" && req.Attributes["DeduplicationScope"] != "messageGroup" {
		app.sendErrorResponse(w, "InvalidParameterValue", "FifoThroughputLimit can be set to perMessageGroupId only when DeduplicationScope is messageGroup", http.StatusBadRequest)
		return
	}

	if _, err := app.Store.CreateQueue(r.Context(), req.QueueName, req.Attributes, req.Tags); err != nil {
		app.sendStoreError(w, r, err)
		return
	}

	app.writeJSON(w, models.CreateQueueResponse{QueueURL: queueURL(r, req.QueueName)})
}

// DeleteQueueHandler handles requests to delete an existing queue.
func (app *App) DeleteQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteQueueRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	if err := app.Store.DeleteQueue(r.Context(), queueName); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListQueuesHandler handles requests to list queues, optionally filtered by
// name prefix and paginated with an opaque NextToken.
func (app *App) ListQueuesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListQueuesRequest
	if !app.decode(w, r, &req) {
		return
	}
	if req.MaxResults < 0 || req.MaxResults > 1000 {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter MaxResults is invalid. Reason: Must be an integer from 1 to 1000.", http.StatusBadRequest)
		return
	}

	queueNames, nextToken, err := app.Store.ListQueues(r.Context(), req.MaxResults, req.NextToken, req.QueueNamePrefix)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}

	// SQS limits the result to 1000 queues if MaxResults is not specified.
	if req.MaxResults == 0 && len(queueNames) > 1000 {
		queueNames = queueNames[:1000]
	}

	app.writeJSON(w, models.ListQueuesResponse{
		QueueUrls: queueURLs(r, queueNames),
		NextToken: nextToken,
	})
}

// GetQueueUrlHandler resolves a queue name to its URL.
func (app *App) GetQueueUrlHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GetQueueURLRequest
	if !app.decode(w, r, &req) {
		return
	}
	if req.QueueName == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter QueueName.", http.StatusBadRequest)
		return
	}
	if req.QueueOwnerAWSAccountId != "" && app.AccountID != "" && req.QueueOwnerAWSAccountId != app.AccountID {
		app.sendErrorResponse(w, "QueueDoesNotExist", "The specified queue does not exist.", http.StatusBadRequest)
		return
	}

	if _, err := app.Store.GetQueueArn(r.Context(), req.QueueName); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.GetQueueURLResponse{QueueUrl: queueURL(r, req.QueueName)})
}

// queueAttributeNames lists every attribute GetQueueAttributes can return.
var queueAttributeNames = map[string]bool{
	"All":                                   true,
	"ApproximateNumberOfMessages":           true,
	"ApproximateNumberOfMessagesNotVisible": true,
	"ApproximateNumberOfMessagesDelayed":    true,
	"CreatedTimestamp":                      true,
	"LastModifiedTimestamp":                 true,
	"QueueArn":                              true,
	"DelaySeconds":                          true,
	"MaximumMessageSize":                    true,
	"MessageRetentionPeriod":                true,
	"ReceiveMessageWaitTimeSeconds":         true,
	"VisibilityTimeout":                     true,
	"RedrivePolicy":                         true,
	"RedriveAllowPolicy":                    true,
	"Policy":                                true,
	"FifoQueue":                             true,
	"ContentBasedDeduplication":             true,
	"DeduplicationScope":                    true,
	"FifoThroughputLimit":                   true,
	"KmsMasterKeyId":                        true,
	"KmsDataKeyReusePeriodSeconds":          true,
	"SqsManagedSseEnabled":                  true,
}

// GetQueueAttributesHandler returns the requested configured and computed
// attributes of a queue. "All" returns every attribute the queue has.
func (app *App) GetQueueAttributesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GetQueueAttributesRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	for _, name := range req.AttributeNames {
		if !queueAttributeNames[name] {
			app.sendErrorResponse(w, "InvalidAttributeName", "Unknown Attribute "+name+".", http.StatusBadRequest)
			return
		}
	}

	attrs, err := app.Store.GetQueueAttributes(r.Context(), queueName)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}

	out := make(map[string]string)
	for _, name := range req.AttributeNames {
		if name == "All" {
			out = attrs
			break
		}
		if v, ok := attrs[name]; ok {
			out[name] = v
		}
	}
	app.writeJSON(w, models.GetQueueAttributesResponse{Attributes: out})
}

// SetQueueAttributesHandler merges new attribute values into a queue's configuration.
func (app *App) SetQueueAttributesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SetQueueAttributesRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if len(req.Attributes) == 0 {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter Attributes.", http.StatusBadRequest)
		return
	}
	if err := ValidateAttributes(req.Attributes); err != nil {
		app.sendAttributeError(w, err)
		return
	}

	if err := app.Store.SetQueueAttributes(r.Context(), queueName, req.Attributes); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// PurgeQueueHandler handles requests to delete all messages from a queue.
// A queue can be purged at most once every 60 seconds.
func (app *App) PurgeQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PurgeQueueRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	if err := app.Store.PurgeQueue(r.Context(), queueName); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Permissions ---

var permissionActions = map[string]bool{
	"*":                            true,
	"SendMessage":                  true,
	"ReceiveMessage":               true,
	"DeleteMessage":                true,
	"ChangeMessageVisibility":      true,
	"GetQueueAttributes":           true,
	"GetQueueUrl":                  true,
	"ListDeadLetterSourceQueues":   true,
	"PurgeQueue":                   true,
	"ListQueueTags":                true,
	"StartMessageMoveTask":         true,
	"CancelMessageMoveTask":        true,
	"ListMessageMoveTasks":         true,
	"SendMessageBatch":             true,
	"DeleteMessageBatch":           true,
	"ChangeMessageVisibilityBatch": true,
}

// AddPermissionHandler adds a labelled statement to the queue's access policy
// granting the listed accounts the listed actions.
func (app *App) AddPermissionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AddPermissionRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if req.Label == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain a Label.", http.StatusBadRequest)
		return
	}
	if !labelRegex.MatchString(req.Label) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Invalid label: Can only include alphanumeric characters, hyphens, and underscores. 1 to 80 in length.", http.StatusBadRequest)
		return
	}
	if len(req.AWSAccountIds) == 0 {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain at least one AWSAccountId.", http.StatusBadRequest)
		return
	}
	if len(req.Actions) == 0 {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain at least one Action.", http.StatusBadRequest)
		return
	}

	var principalARNs []string
	for _, id := range req.AWSAccountIds {
		if !awsAccountIDRegex.MatchString(id) {
			app.sendErrorResponse(w, "InvalidParameterValue", "Invalid AWSAccountId: "+id, http.StatusBadRequest)
			return
		}
		principalARNs = append(principalARNs, "arn:aws:iam::"+id+":root")
	}
	actions := make([]string, 0, len(req.Actions))
	for _, action := range req.Actions {
		if !permissionActions[action] {
			app.sendErrorResponse(w, "InvalidParameterValue", "Invalid action: "+action, http.StatusBadRequest)
			return
		}
		actions = append(actions, "SQS:"+action)
	}
	sort.Strings(actions)

	statement := models.Statement{
		Sid:       req.Label,
		Effect:    "Allow",
		Principal: models.Principal{AWS: principalARNs},
		Action:    actions,
	}
	if err := app.Store.AddPermission(r.Context(), queueName, statement); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RemovePermissionHandler removes the statement with the given label.
func (app *App) RemovePermissionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RemovePermissionRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if req.Label == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain a Label.", http.StatusBadRequest)
		return
	}
	if !labelRegex.MatchString(req.Label) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Invalid label: Can only include alphanumeric characters, hyphens, and underscores. 1 to 80 in length.", http.StatusBadRequest)
		return
	}

	if err := app.Store.RemovePermission(r.Context(), queueName, req.Label); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Tagging ---

func (app *App) ListQueueTagsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListQueueTagsRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	tags, err := app.Store.ListQueueTags(r.Context(), queueName)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.ListQueueTagsResponse{Tags: tags})
}

func (app *App) TagQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TagQueueRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if len(req.Tags) == 0 {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter Tags.", http.StatusBadRequest)
		return
	}
	if err := app.Store.TagQueue(r.Context(), queueName, req.Tags); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.TagQueueResponse{})
}

func (app *App) UntagQueueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UntagQueueRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if len(req.TagKeys) == 0 {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter TagKeys.", http.StatusBadRequest)
		return
	}
	if err := app.Store.UntagQueue(r.Context(), queueName, req.TagKeys); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.UntagQueueResponse{})
}

// ListDeadLetterSourceQueuesHandler lists the queues whose RedrivePolicy
// targets the given queue.
func (app *App) ListDeadLetterSourceQueuesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListDeadLetterSourceQueuesRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if req.MaxResults < 0 || req.MaxResults > 1000 {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter MaxResults is invalid. Reason: Must be an integer from 1 to 1000.", http.StatusBadRequest)
		return
	}

	names, nextToken, err := app.Store.ListDeadLetterSourceQueues(r.Context(), queueName, req.MaxResults, req.NextToken)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.ListDeadLetterSourceQueuesResponse{
		QueueUrls: queueURLs(r, names),
		NextToken: nextToken,
	})
}
