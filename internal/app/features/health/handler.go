// internal/app/features/health/handler.go
package health

import (
	"context"
	"net/http"

	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	"github.com/dalemusser/cohortsync/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Overall statuses reported by Ready.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// QueueStats reports deferred notification counts keyed by status.
type QueueStats interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Handler reports process and dependency health.
type Handler struct {
	Client *mongo.Client
	Queue  QueueStats // nil when notifications are sent inline
	Log    *zap.Logger
}

func NewHandler(client *mongo.Client, queue QueueStats, logger *zap.Logger) *Handler {
	return &Handler{Client: client, Queue: queue, Log: logger}
}

type check struct {
	Status string           `json:"status"`
	Error  string           `json:"error,omitempty"`
	Counts map[string]int64 `json:"counts,omitempty"`
}

type report struct {
	Status string           `json:"status"`
	Checks map[string]check `json:"checks,omitempty"`
}

// Live handles GET /health/live. It answers without touching dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	apierrors.JSON(w, http.StatusOK, report{Status: StatusOK})
}

// Ready handles GET /health.
//
// A failed database ping answers 503 with status "down". Notifications that
// exhausted their attempts, or a queue that cannot be counted, leave the
// service usable and answer 200 with status "degraded".
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	rep := report{Status: StatusOK, Checks: map[string]check{}}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health: mongo ping failed", zap.Error(err))
		rep.Status = StatusDown
		rep.Checks["database"] = check{Status: StatusDown, Error: err.Error()}
		apierrors.JSON(w, http.StatusServiceUnavailable, rep)
		return
	}
	rep.Checks["database"] = check{Status: StatusOK}

	if h.Queue != nil {
		rep.Checks["queue"] = h.queueCheck(ctx)
		if rep.Checks["queue"].Status != StatusOK {
			rep.Status = StatusDegraded
		}
	}

	apierrors.JSON(w, http.StatusOK, rep)
}

func (h *Handler) queueCheck(ctx context.Context) check {
	counts, err := h.Queue.CountByStatus(ctx)
	if err != nil {
		h.Log.Warn("health: queue count failed", zap.Error(err))
		return check{Status: StatusDegraded, Error: err.Error()}
	}
	c := check{Status: StatusOK, Counts: counts}
	if counts[notifyqueue.StatusFailed] > 0 {
		c.Status = StatusDegraded
	}
	return c
}
