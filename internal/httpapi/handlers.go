package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/broker"
	"github.com/rmacdonaldsmith/topicrelay/internal/session"
	"github.com/rs/zerolog"
)

// Source is the broker state the API reports on.
type Source interface {
	Snapshot(ctx context.Context) (*broker.Snapshot, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	source  Source
	logger  zerolog.Logger
	timeout time.Duration
}

// NewHandlers creates a new handlers instance
func NewHandlers(source Source, logger zerolog.Logger, timeout time.Duration) *Handlers {
	return &Handlers{
		source:  source,
		logger:  logger,
		timeout: timeout,
	}
}

func (h *Handlers) snapshot(r *http.Request) (*broker.Snapshot, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	return h.source.Snapshot(ctx)
}

// Health handles GET /api/v1/health. It reports unhealthy when the loop does not answer.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r)
	if err != nil {
		writeJSON(w, HealthResponse{Healthy: false, Message: err.Error()}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, HealthResponse{
		Healthy:      true,
		Connections:  snap.Connections,
		LiveSessions: snap.LiveSessions,
		Uptime:       snap.TakenAt.Sub(snap.StartedAt).Truncate(time.Second).String(),
		Message:      "broker is running",
	}, http.StatusOK)
}

// Sessions handles GET /api/v1/admin/sessions. Optional query parameters: live=true|false
// keeps only sessions in that state, identity=<id> keeps one session.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var live *bool
	if v := q.Get("live"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "live must be true or false", http.StatusBadRequest)
			return
		}
		live = &b
	}
	identity := q.Get("identity")

	snap, err := h.snapshot(r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("snapshot for sessions")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	out := make([]session.Info, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if live != nil && s.Live != *live {
			continue
		}
		if identity != "" && s.Identity != identity {
			continue
		}
		out = append(out, s)
	}
	if identity != "" && len(out) == 0 {
		writeError(w, "unknown identity "+identity, http.StatusNotFound)
		return
	}
	writeJSON(w, SessionsResponse{Sessions: out, Count: len(out)}, http.StatusOK)
}

// Stats handles GET /api/v1/admin/stats
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshot(r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("snapshot for stats")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	subs := 0
	for _, s := range snap.Sessions {
		subs += len(s.Subscriptions)
	}
	writeJSON(w, StatsResponse{
		Stats:         snap.Stats,
		Connections:   snap.Connections,
		Sessions:      len(snap.Sessions),
		LiveSessions:  snap.LiveSessions,
		Subscriptions: subs,
		StartedAt:     snap.StartedAt,
	}, http.StatusOK)
}
