package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
	"github.com/angeloszaimis/fleet-watcher/internal/tracker"
)

// Snapshotter provides the in-memory fleet view.
type Snapshotter interface {
	Snapshot() tracker.Snapshot
}

type Handler struct {
	snapshots Snapshotter
	store     history.Store
	logger    *slog.Logger
	now       func() time.Time
}

func New(snapshots Snapshotter, store history.Store, logger *slog.Logger) *Handler {
	return &Handler{snapshots: snapshots, store: store, logger: logger, now: time.Now}
}

type latestResponse struct {
	Now time.Time `json:"now"`
	tracker.Snapshot
}

type historyResponse struct {
	Now    time.Time       `json:"now"`
	Server string          `json:"server"`
	Data   []models.Record `json:"data"`
}

type historyError struct {
	Now    time.Time `json:"now"`
	Server string    `json:"server"`
	Err    string    `json:"err"`
}

// Latest serves the snapshot of every host and server.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, latestResponse{Now: h.now(), Snapshot: h.snapshots.Snapshot()})
}

// History serves stored samples for ?server=, newest first, optionally
// limited by ?limit= and paginated by ?before= (RFC3339 or unix ms).
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	server := q.Get("server")
	if server == "" {
		http.Error(w, "missing server parameter", http.StatusBadRequest)
		return
	}

	// hosts and servers may share an id; only status samples belong here
	opts := history.QueryOptions{Kind: models.KindStatus}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}
	if raw := q.Get("before"); raw != "" {
		before, err := parseTime(raw)
		if err != nil {
			http.Error(w, "invalid before", http.StatusBadRequest)
			return
		}
		opts.Before = &before
	}

	recs, err := h.store.Query(r.Context(), server, opts)
	if err != nil {
		h.logger.Error("History query failed",
			slog.String("server", server),
			slog.Any("err", err))
		writeJSON(w, http.StatusOK, historyError{Now: h.now(), Server: server, Err: "DB error"})
		return
	}

	if recs == nil {
		recs = []models.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Now: h.now(), Server: server, Data: recs})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errBadTime = errors.New("expected RFC3339 or unix milliseconds")

func parseTime(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Time{}, errBadTime
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
