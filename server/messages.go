package server

import (
	"fmt"
	"net/http"

	"github.com/tabeth/memq/models"
)

// --- Message Management Handlers ---

// SendMessageHandler handles requests to send a single message to a queue.
// Parameter formats are checked here; everything that depends on the queue
// (FIFO rules, size limit, delay) is checked by the store.
func (app *App) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	if len(req.MessageBody) > maxPayloadBytes {
		app.sendErrorResponse(w, "InvalidParameterValue", "The message body must be between 1 and 262144 bytes long.", http.StatusBadRequest)
		return
	}
	if req.DelaySeconds != nil && (*req.DelaySeconds < 0 || *req.DelaySeconds > 900) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter DelaySeconds is invalid. Reason: Must be an integer from 0 to 900.", http.StatusBadRequest)
		return
	}
	if code, msg := validateMessageParams(req.MessageBody, req.MessageGroupId, req.MessageDeduplicationId, req.MessageAttributes, req.MessageSystemAttributes); code != "" {
		app.sendErrorResponse(w, code, msg, http.StatusBadRequest)
		return
	}

	resp, err := app.Store.SendMessage(r.Context(), queueName, &req)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, resp)
}

// SendMessageBatchHandler handles requests to send up to 10 messages in a single call.
// Batch-level problems fail the whole request; per-entry problems are reported
// in the Failed list while the remaining entries are sent.
func (app *App) SendMessageBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageBatchRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	ids := make([]string, len(req.Entries))
	totalPayloadSize := 0
	for i, entry := range req.Entries {
		ids[i] = entry.Id
		totalPayloadSize += len(entry.MessageBody)
	}
	if berr := validateBatchIds(ids); berr != nil {
		app.sendErrorResponse(w, berr.code, berr.message, http.StatusBadRequest)
		return
	}
	if totalPayloadSize > maxPayloadBytes {
		app.sendErrorResponse(w, "BatchRequestTooLong", "The length of all the messages put together is more than the limit.", http.StatusBadRequest)
		return
	}

	// Entries with malformed parameters fail individually before the store sees them.
	var failed []models.BatchResultErrorEntry
	valid := req.Entries[:0:0]
	for _, entry := range req.Entries {
		code, msg := validateMessageParams(entry.MessageBody, entry.MessageGroupId, entry.MessageDeduplicationId, entry.MessageAttributes, entry.MessageSystemAttributes)
		if code == "" && entry.DelaySeconds != nil && (*entry.DelaySeconds < 0 || *entry.DelaySeconds > 900) {
			code, msg = "InvalidParameterValue", "Value for parameter DelaySeconds is invalid. Reason: Must be an integer from 0 to 900."
		}
		if code != "" {
			failed = append(failed, models.BatchResultErrorEntry{Id: entry.Id, Code: code, Message: msg, SenderFault: true})
			continue
		}
		valid = append(valid, entry)
	}

	resp := &models.SendMessageBatchResponse{Successful: []models.SendMessageBatchResultEntry{}}
	if len(valid) > 0 {
		var err error
		resp, err = app.Store.SendMessageBatch(r.Context(), queueName, &models.SendMessageBatchRequest{QueueUrl: req.QueueUrl, Entries: valid})
		if err != nil {
			app.sendStoreError(w, r, err)
			return
		}
	} else if _, err := app.Store.GetQueueArn(r.Context(), queueName); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	resp.Failed = append(resp.Failed, failed...)
	if resp.Failed == nil {
		resp.Failed = []models.BatchResultErrorEntry{}
	}
	app.writeJSON(w, resp)
}

// ReceiveMessageHandler handles requests to retrieve messages from a queue.
// With a positive wait time the request is held until messages arrive, the
// wait elapses, or the client goes away.
func (app *App) ReceiveMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ReceiveMessageRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	if req.MaxNumberOfMessages != nil && (*req.MaxNumberOfMessages < 1 || *req.MaxNumberOfMessages > 10) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter MaxNumberOfMessages is invalid. Reason: Must be an integer from 1 to 10.", http.StatusBadRequest)
		return
	}
	if req.WaitTimeSeconds != nil && (*req.WaitTimeSeconds < 0 || *req.WaitTimeSeconds > 20) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter WaitTimeSeconds is invalid. Reason: Must be an integer from 0 to 20.", http.StatusBadRequest)
		return
	}
	if req.VisibilityTimeout != nil && (*req.VisibilityTimeout < 0 || *req.VisibilityTimeout > 43200) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter VisibilityTimeout is invalid. Reason: Must be an integer from 0 to 43200.", http.StatusBadRequest)
		return
	}
	if req.ReceiveRequestAttemptId != "" {
		if len(req.ReceiveRequestAttemptId) > 128 {
			app.sendErrorResponse(w, "InvalidParameterValue", "ReceiveRequestAttemptId can be up to 128 characters long.", http.StatusBadRequest)
			return
		}
		if !isValidSqsChars(req.ReceiveRequestAttemptId) {
			app.sendErrorResponse(w, "InvalidParameterValue", "ReceiveRequestAttemptId can only contain alphanumeric characters and punctuation.", http.StatusBadRequest)
			return
		}
	}

	// Validate that only supported attribute names are requested.
	for _, names := range [][]string{req.AttributeNames, req.MessageSystemAttributeNames} {
		for _, name := range names {
			if !validMessageSystemAttributeNames[name] {
				app.sendErrorResponse(w, "InvalidAttributeName", "The attribute '"+name+"' is not supported.", http.StatusBadRequest)
				return
			}
		}
	}
	for _, name := range req.MessageAttributeNames {
		if !isValidMessageAttributeName(name, true) {
			app.sendErrorResponse(w, "InvalidAttributeName", "The attribute name '"+name+"' is invalid.", http.StatusBadRequest)
			return
		}
	}

	resp, err := app.Store.ReceiveMessage(r.Context(), queueName, &req)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	if resp.Messages == nil {
		resp.Messages = []models.ResponseMessage{}
	}
	app.writeJSON(w, resp)
}

// DeleteMessageHandler handles requests to delete a single message.
func (app *App) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteMessageRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if req.ReceiptHandle == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain a ReceiptHandle.", http.StatusBadRequest)
		return
	}

	if err := app.Store.DeleteMessage(r.Context(), queueName, req.ReceiptHandle); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	// A successful deletion returns a 200 OK with no body.
	w.WriteHeader(http.StatusOK)
}

// DeleteMessageBatchHandler handles requests to delete up to 10 messages in a single call.
func (app *App) DeleteMessageBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteMessageBatchRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	ids := make([]string, len(req.Entries))
	for i, entry := range req.Entries {
		ids[i] = entry.Id
	}
	if berr := validateBatchIds(ids); berr != nil {
		app.sendErrorResponse(w, berr.code, berr.message, http.StatusBadRequest)
		return
	}

	resp, err := app.Store.DeleteMessageBatch(r.Context(), queueName, req.Entries)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, resp)
}

// ChangeMessageVisibilityHandler resets the visibility timeout of an in-flight message.
func (app *App) ChangeMessageVisibilityHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChangeMessageVisibilityRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}
	if req.ReceiptHandle == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain a ReceiptHandle.", http.StatusBadRequest)
		return
	}
	if req.VisibilityTimeout < 0 || req.VisibilityTimeout > 43200 {
		app.sendErrorResponse(w, "InvalidParameterValue", fmt.Sprintf("Value %d for parameter VisibilityTimeout is invalid. Reason: Must be between 0 and 43200.", req.VisibilityTimeout), http.StatusBadRequest)
		return
	}

	if err := app.Store.ChangeMessageVisibility(r.Context(), queueName, req.ReceiptHandle, req.VisibilityTimeout); err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ChangeMessageVisibilityBatchHandler changes the visibility of up to 10 messages.
func (app *App) ChangeMessageVisibilityBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ChangeMessageVisibilityBatchRequest
	if !app.decode(w, r, &req) {
		return
	}
	queueName, ok := app.queueNameFromURL(w, req.QueueUrl)
	if !ok {
		return
	}

	ids := make([]string, len(req.Entries))
	for i, entry := range req.Entries {
		ids[i] = entry.Id
	}
	if berr := validateBatchIds(ids); berr != nil {
		app.sendErrorResponse(w, berr.code, berr.message, http.StatusBadRequest)
		return
	}

	resp, err := app.Store.ChangeMessageVisibilityBatch(r.Context(), queueName, req.Entries)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, resp)
}
