package server

import (
	"net/http"

	"github.com/tabeth/memq/models"
)

// --- Message Move Tasks ---

// StartMessageMoveTaskHandler starts draining a dead-letter queue. Without a
// DestinationArn each message returns to the queue it was redriven from.
func (app *App) StartMessageMoveTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartMessageMoveTaskRequest
	if !app.decode(w, r, &req) {
		return
	}
	if req.SourceArn == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter SourceArn.", http.StatusBadRequest)
		return
	}
	if !arnRegex.MatchString(req.SourceArn) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Invalid SourceArn: "+req.SourceArn, http.StatusBadRequest)
		return
	}
	if req.DestinationArn != "" && !arnRegex.MatchString(req.DestinationArn) {
		app.sendErrorResponse(w, "InvalidParameterValue", "Invalid DestinationArn: "+req.DestinationArn, http.StatusBadRequest)
		return
	}

	handle, err := app.Store.StartMessageMoveTask(r.Context(), req.SourceArn, req.DestinationArn, req.MaxNumberOfMessagesPerSecond)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.StartMessageMoveTaskResponse{TaskHandle: handle})
}

// CancelMessageMoveTaskHandler cancels a running move task and reports how
// many messages it had moved.
func (app *App) CancelMessageMoveTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CancelMessageMoveTaskRequest
	if !app.decode(w, r, &req) {
		return
	}
	if req.TaskHandle == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter TaskHandle.", http.StatusBadRequest)
		return
	}

	moved, err := app.Store.CancelMessageMoveTask(r.Context(), req.TaskHandle)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.CancelMessageMoveTaskResponse{ApproximateNumberOfMessagesMoved: moved})
}

// ListMessageMoveTasksHandler lists the most recent move tasks of a source queue.
func (app *App) ListMessageMoveTasksHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ListMessageMoveTasksRequest
	if !app.decode(w, r, &req) {
		return
	}
	if req.SourceArn == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain the parameter SourceArn.", http.StatusBadRequest)
		return
	}
	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = 1
	}
	if maxResults < 1 || maxResults > 10 {
		app.sendErrorResponse(w, "InvalidParameterValue", "Value for parameter MaxResults is invalid. Reason: Must be an integer from 1 to 10.", http.StatusBadRequest)
		return
	}

	results, err := app.Store.ListMessageMoveTasks(r.Context(), req.SourceArn, maxResults)
	if err != nil {
		app.sendStoreError(w, r, err)
		return
	}
	app.writeJSON(w, models.ListMessageMoveTasksResponse{Results: results})
}
