package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrWong99/waketurn/internal/history"
	"github.com/MrWong99/waketurn/internal/observe"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Handler returns the status server routes wrapped in the observability
// middleware:
//
//	GET  /healthz, /readyz  probes
//	GET  /metrics           Prometheus scrape endpoint
//	GET  /events            WebSocket presentation feed
//	GET  /history           recent turns; ?q= searches, ?limit= bounds
//	POST /wake              push-to-talk, only when wake.manual is set
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.Handle("GET /events", a.feed)
	mux.HandleFunc("GET /history", a.handleHistory)
	if a.manual != nil {
		mux.HandleFunc("POST /wake", a.handleWake)
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleWake(w http.ResponseWriter, r *http.Request) {
	a.manual.Press()
	observe.Logger(r.Context()).Info("manual wake requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		recs []history.Record
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		recs, err = a.history.Search(r.Context(), q, limit)
	} else {
		recs, err = a.history.Recent(r.Context(), limit)
	}
	if err != nil {
		observe.Logger(r.Context()).Error("history query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
