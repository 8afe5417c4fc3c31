// Package server exposes the queue engine over the SQS JSON protocol.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tabeth/memq/models"
	"github.com/tabeth/memq/store"
)

// App encapsulates the application's dependencies, primarily the storage interface.
// This struct is used as the receiver for our HTTP handlers, giving them access
// to the queue engine (via the Store interface) and the request logger.
type App struct {
	Store  store.Store
	Logger *zap.Logger
	// AccountID is the queue owner; GetQueueUrl rejects lookups for other owners.
	AccountID string
}

// RouterOptions configures the ambient routes and middleware around the SQS endpoint.
type RouterOptions struct {
	// RequestsPerMinute enables a per-IP request throttle when positive.
	RequestsPerMinute int
	// Gatherer, when set, is served on GET /metrics.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the HTTP handler for app.
func NewRouter(app *App, opts RouterOptions) *chi.Mux {
	if app.Logger == nil {
		app.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(app.Logger))
	r.Use(middleware.Recoverer)
	if opts.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(opts.RequestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				app.sendErrorResponse(w, "RequestThrottled", "Rate exceeded", http.StatusBadRequest)
			}),
		))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	app.RegisterSQSHandlers(r)
	return r
}

// RegisterSQSHandlers registers the SQS API endpoint with the Chi router.
// SQS uses a single RPC-style endpoint (`/`) where the action is specified in
// the `X-Amz-Target` header.
func (app *App) RegisterSQSHandlers(r chi.Router) {
	r.Post("/", app.RootSQSHandler)
}

// RootSQSHandler acts as a dispatcher for the primary SQS RPC-style endpoint.
// It inspects the `X-Amz-Target` header to determine which SQS action is being requested
// and calls the appropriate handler function.
func (app *App) RootSQSHandler(w http.ResponseWriter, r *http.Request) {
	// The target header format is "AmazonSQS.<ActionName>".
	target := r.Header.Get("X-Amz-Target")

	service, action, ok := strings.Cut(target, ".")
	if !ok || service != "AmazonSQS" || action == "" {
		app.sendErrorResponse(w, "InvalidAction", "Invalid X-Amz-Target header", http.StatusBadRequest)
		return
	}

	switch action {
	case "CreateQueue":
		app.CreateQueueHandler(w, r)
	case "DeleteQueue":
		app.DeleteQueueHandler(w, r)
	case "ListQueues":
		app.ListQueuesHandler(w, r)
	case "GetQueueUrl":
		app.GetQueueUrlHandler(w, r)
	case "GetQueueAttributes":
		app.GetQueueAttributesHandler(w, r)
	case "SetQueueAttributes":
		app.SetQueueAttributesHandler(w, r)
	case "PurgeQueue":
		app.PurgeQueueHandler(w, r)
	case "SendMessage":
		app.SendMessageHandler(w, r)
	case "SendMessageBatch":
		app.SendMessageBatchHandler(w, r)
	case "ReceiveMessage":
		app.ReceiveMessageHandler(w, r)
	case "DeleteMessage":
		app.DeleteMessageHandler(w, r)
	case "DeleteMessageBatch":
		app.DeleteMessageBatchHandler(w, r)
	case "ChangeMessageVisibility":
		app.ChangeMessageVisibilityHandler(w, r)
	case "ChangeMessageVisibilityBatch":
		app.ChangeMessageVisibilityBatchHandler(w, r)
	case "AddPermission":
		app.AddPermissionHandler(w, r)
	case "RemovePermission":
		app.RemovePermissionHandler(w, r)
	case "ListQueueTags":
		app.ListQueueTagsHandler(w, r)
	case "TagQueue":
		app.TagQueueHandler(w, r)
	case "UntagQueue":
		app.UntagQueueHandler(w, r)
	case "ListDeadLetterSourceQueues":
		app.ListDeadLetterSourceQueuesHandler(w, r)
	case "StartMessageMoveTask":
		app.StartMessageMoveTaskHandler(w, r)
	case "CancelMessageMoveTask":
		app.CancelMessageMoveTaskHandler(w, r)
	case "ListMessageMoveTasks":
		app.ListMessageMoveTasksHandler(w, r)
	default:
		app.sendErrorResponse(w, "UnsupportedOperation", "Unsupported operation: "+action, http.StatusBadRequest)
	}
}

// sendErrorResponse is a convenience helper function to format and send error responses
// that are compatible with the AWS SQS API. It sets the appropriate headers and
// marshals the error into the standard JSON format expected by AWS clients.
func (app *App) sendErrorResponse(w http.ResponseWriter, errorType string, message string, statusCode int) {
	errResp := models.ErrorResponse{
		Type:    errorType,
		Message: message,
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errResp)
}

// sendStoreError translates an engine error into its wire code. Errors the
// engine does not classify are logged and reported as InternalFailure.
func (app *App) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if code := store.ErrorCode(err); code != "" {
		app.sendErrorResponse(w, code, errorMessage(err), http.StatusBadRequest)
		return
	}
	app.Logger.Error("request failed",
		zap.String("action", r.Header.Get("X-Amz-Target")),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	app.sendErrorResponse(w, "InternalFailure", "The request processing has failed because of an unknown error.", http.StatusInternalServerError)
}

var sentinelMessages = map[error]string{
	store.ErrQueueDoesNotExist:    "The specified queue does not exist.",
	store.ErrQueueDeletedRecently: "You must wait 60 seconds after deleting a queue before you can create another queue with the same name.",
	store.ErrInvalidReceiptHandle: "The specified receipt handle isn't valid.",
	store.ErrPurgeQueueInProgress: "Indicates that the specified queue previously received a PurgeQueue request within the last 60 seconds.",
}

// errorMessage prefers the canonical SQS wording for errors clients match on
// and falls back to the wrapped detail otherwise.
func errorMessage(err error) string {
	for sentinel, msg := range sentinelMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return err.Error()
}

// writeJSON encodes resp as the 200 response body.
func (app *App) writeJSON(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		app.Logger.Error("failed to encode response", zap.Error(err))
	}
}

// decode reads the JSON request body into req, answering with an error
// response and returning false when the body is malformed. An empty body
// decodes as an empty request.
func (app *App) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		app.sendErrorResponse(w, "InvalidRequest", "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// queueNameFromURL extracts the queue name from a QueueUrl. A missing
// QueueUrl produces a MissingParameter error response.
func (app *App) queueNameFromURL(w http.ResponseWriter, queueURL string) (string, bool) {
	if queueURL == "" {
		app.sendErrorResponse(w, "MissingParameter", "The request must contain a QueueUrl.", http.StatusBadRequest)
		return "", false
	}
	u, err := url.Parse(queueURL)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		app.sendErrorResponse(w, "InvalidAddress", "The address "+queueURL+" is not valid for this endpoint.", http.StatusBadRequest)
		return "", false
	}
	return path.Base(u.Path), true
}

// queueURL constructs the queue URL dynamically based on the incoming request's host.
func queueURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/queues/%s", scheme, r.Host, name)
}

func queueURLs(r *http.Request, names []string) []string {
	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = queueURL(r, name)
	}
	return urls
}

// requestLogger logs one line per request with the SQS action, status and latency.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("action", strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "AmazonSQS.")),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
