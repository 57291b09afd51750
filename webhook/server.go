// Package webhook is the HTTP entry surface: it receives work-tracker
// webhook deliveries, suppresses duplicates, checks the trigger field, and
// hands qualifying tasks to the pipeline exactly once.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360studio/imagent/metrics"
	"github.com/c360studio/imagent/tasklock"
	"github.com/c360studio/imagent/tracker"
)

// Dispositions reported back to the webhook sender.
const (
	dispositionAccepted  = "accepted"
	dispositionDuplicate = "duplicate"
	dispositionBusy      = "busy"
	dispositionIgnored   = "ignored"
	dispositionRejected  = "rejected"
)

// TrackerAPI is the slice of the work-tracker client the entry layer needs.
type TrackerAPI interface {
	GetTask(ctx context.Context, taskID string) (*tracker.Task, error)
}

// payload is the webhook delivery body.
type payload struct {
	Event        string `json:"event"`
	TaskID       string `json:"task_id"`
	HistoryItems []struct {
		ID string `json:"id"`
	} `json:"history_items"`
}

// Server routes webhook deliveries into pipeline runs.
type Server struct {
	tracker        TrackerAPI
	runner         *Runner
	locks          *tasklock.Locker
	dedup          *dedupRing
	triggerFieldID string
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics wires webhook metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a webhook Server.
func NewServer(trackerAPI TrackerAPI, runner *Runner, locks *tasklock.Locker, triggerFieldID string, dedupSize int, opts ...ServerOption) *Server {
	s := &Server{
		tracker:        trackerAPI,
		runner:         runner,
		locks:          locks,
		dedup:          newDedupRing(dedupSize),
		triggerFieldID: triggerFieldID,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP mux for the webhook surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var p payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.respond(w, http.StatusBadRequest, dispositionRejected, "malformed payload")
		return
	}
	if p.TaskID == "" {
		s.respond(w, http.StatusBadRequest, dispositionRejected, "missing task_id")
		return
	}

	if len(p.HistoryItems) > 0 && s.dedup.Seen(p.HistoryItems[0].ID) {
		s.respond(w, http.StatusOK, dispositionDuplicate, "")
		return
	}

	t, err := s.tracker.GetTask(r.Context(), p.TaskID)
	if err != nil {
		s.logger.Error("Failed to fetch task for webhook",
			"task_id", p.TaskID,
			"error", err)
		s.respond(w, http.StatusBadGateway, dispositionRejected, "task fetch failed")
		return
	}

	if !triggerSet(t.CustomFields, s.triggerFieldID) {
		s.respond(w, http.StatusOK, dispositionIgnored, "trigger field not set")
		return
	}

	if err := s.locks.Acquire(p.TaskID); err != nil {
		if errors.Is(err, tasklock.ErrBusy) {
			s.respond(w, http.StatusOK, dispositionBusy, "task is already being processed")
			return
		}
		s.respond(w, http.StatusInternalServerError, dispositionRejected, err.Error())
		return
	}

	s.logger.Info("Webhook accepted",
		"task_id", p.TaskID,
		"event", p.Event)

	// The run owns the lock from here; it releases on every exit path.
	go func() {
		defer s.locks.Release(p.TaskID)
		s.runner.Run(context.Background(), t)
	}()

	s.respond(w, http.StatusAccepted, dispositionAccepted, "")
}

func (s *Server) respond(w http.ResponseWriter, code int, disposition, detail string) {
	if s.metrics != nil {
		s.metrics.Webhook(disposition)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]string{"status": disposition}
	if detail != "" {
		body["detail"] = detail
	}
	json.NewEncoder(w).Encode(body)
}

// triggerSet reports whether the boolean trigger custom field is on.
func triggerSet(fields []tracker.CustomField, fieldID string) bool {
	if fieldID == "" {
		return true
	}
	for _, f := range fields {
		if f.ID != fieldID || len(f.Value) == 0 {
			continue
		}

		var b bool
		if err := json.Unmarshal(f.Value, &b); err == nil {
			return b
		}
		var str string
		if err := json.Unmarshal(f.Value, &str); err == nil {
			return strings.EqualFold(str, "true")
		}
	}
	return false
}
