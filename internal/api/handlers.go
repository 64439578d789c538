package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"safety-monitoring/internal/pipeline"
	"safety-monitoring/internal/sensor"
	"safety-monitoring/internal/storage"
	"safety-monitoring/pkg/logger"
)

const maxLogLimit = 500

// EventLog is the query surface of the event store.
type EventLog interface {
	Recent(ctx context.Context, limit int) ([]pipeline.Event, error)
	GetSummary(ctx context.Context) (storage.Summary, error)
	Degraded() bool
}

// Dashboard is the live push surface of the broadcast hub.
type Dashboard interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

type Server struct {
	Store   EventLog
	Hub     Dashboard
	Workers map[string]*sensor.Worker
	Queue   *pipeline.Queue
	Metrics *pipeline.Metrics
}

func NewServer(store EventLog, hub Dashboard, workers map[string]*sensor.Worker, q *pipeline.Queue, m *pipeline.Metrics) *Server {
	return &Server{Store: store, Hub: hub, Workers: workers, Queue: q, Metrics: m}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/", RequestIDMiddleware(http.HandlerFunc(s.handleRoot)))
	mux.Handle("/stats", RequestIDMiddleware(http.HandlerFunc(s.handleStats)))
	mux.Handle("/logs", RequestIDMiddleware(http.HandlerFunc(s.handleLogs)))
	mux.Handle("/logs/summary", RequestIDMiddleware(http.HandlerFunc(s.handleSummary)))
	mux.Handle("/control/camera/", RequestIDMiddleware(http.HandlerFunc(s.handleCameraControl)))
	mux.HandleFunc("/ws/dashboard", s.Hub.ServeWS)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":            "operational",
		"service":           "safety-monitoring",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"connected_clients": s.Hub.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	workers := make(map[string]string, len(s.Workers))
	for name, wk := range s.Workers {
		workers[name] = wk.State().String()
	}
	writeJSON(w, map[string]interface{}{
		"connected_clients": s.Hub.ClientCount(),
		"workers":           workers,
		"queue_depth":       s.Queue.Len(),
		"queue_capacity":    s.Queue.Cap(),
		"events_dropped":    s.Queue.Dropped(),
		"events_processed":  s.Metrics.GetReceived(),
		"events_persisted":  s.Metrics.GetPersisted(),
		"events_degraded":   s.Metrics.GetDegraded(),
		"events_per_second": s.Metrics.EPS(),
		"uptime_seconds":    int(time.Since(s.Metrics.StartTime()).Seconds()),
		"degraded":          s.Store.Degraded(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			log.Warnw("invalid limit param", "limit", v, "status", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	events, err := s.Store.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to load logs", http.StatusInternalServerError)
		log.Errorw("recent query failed", "error", err)
		return
	}
	if events == nil {
		events = []pipeline.Event{}
	}
	writeJSON(w, map[string]interface{}{
		"total": len(events),
		"logs":  events,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())

	sum, err := s.Store.GetSummary(r.Context())
	if err != nil {
		http.Error(w, "failed to load summary", http.StatusInternalServerError)
		logger.Get().Errorw("summary query failed", "request_id", rid, "error", err)
		return
	}
	writeJSON(w, sum)
}

// handleCameraControl serves POST /control/camera/{id}/{action} where
// action is start, stop, or restart. Restarting an errored worker is
// the operator's explicit decision; the pipeline never auto-retries.
func (s *Server) handleCameraControl(w http.ResponseWriter, r *http.Request) {
	rid := GetRequestID(r.Context())
	log := logger.Get().With("request_id", rid)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		log.Warnw("request rejected", "method", r.Method, "path", r.URL.Path, "status", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/control/camera/"), "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "expected /control/camera/{id}/{action}", http.StatusBadRequest)
		return
	}
	name, action := parts[0], parts[1]

	wk, ok := s.Workers[name]
	if !ok {
		http.Error(w, "unknown camera", http.StatusNotFound)
		log.Warnw("unknown camera", "camera_id", name, "status", http.StatusNotFound)
		return
	}

	var err error
	switch action {
	case "start":
		err = wk.Start()
	case "stop":
		wk.Stop()
	case "restart":
		wk.Stop()
		err = wk.Start()
	default:
		http.Error(w, "invalid action, use: start, stop, or restart", http.StatusBadRequest)
		log.Warnw("invalid camera action", "action", action, "status", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		log.Warnw("camera control failed", "camera_id", name, "action", action, "error", err)
		return
	}

	log.Infow("camera control executed", "camera_id", name, "action", action, "state", wk.State().String())
	writeJSON(w, map[string]interface{}{
		"camera_id": name,
		"action":    action,
		"status":    "executed",
		"state":     wk.State().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
