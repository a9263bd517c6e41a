// internal/app/features/hooks/handler.go
//
// Package hooks receives order and catalog notifications from the commerce
// system, mirrors them into MongoDB and raises the matching lifecycle events.
package hooks

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	coursestore "github.com/dalemusser/cohortsync/internal/app/store/courses"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	"github.com/dalemusser/cohortsync/internal/app/system/auditlog"
	"github.com/dalemusser/cohortsync/internal/app/system/inputval"
	"go.uber.org/zap"
)

// maxBody caps hook payloads.
const maxBody = 1 << 20

// Publisher raises lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Handler holds the hook dependencies.
type Handler struct {
	Orders  *orderstore.Store
	Courses *coursestore.Store
	Bus     Publisher
	Audit   *auditlog.Logger
	Log     *zap.Logger
}

func NewHandler(orders *orderstore.Store, courses *coursestore.Store, bus Publisher, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		Orders:  orders,
		Courses: courses,
		Bus:     bus,
		Audit:   audit,
		Log:     logger,
	}
}

// decode reads a JSON body into dst and runs its validation tags. It writes
// the 400 response itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		h.Audit.PayloadRejected(r.Context(), r, "malformed json")
		apierrors.BadRequest(w, "malformed JSON body", nil)
		return false
	}
	if res := inputval.Validate(dst); res.HasErrors() {
		h.Audit.PayloadRejected(r.Context(), r, res.All())
		apierrors.BadRequest(w, "invalid payload", res.Map())
		return false
	}
	return true
}

// publish raises ev. Only an unavailable database surfaces as an error;
// handler failures are logged by the bus.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request, ev events.Event) bool {
	if err := h.Bus.Publish(r.Context(), ev); err != nil {
		apierrors.Server(w, h.Log, "event propagation failed", err, events.Fields(ev)...)
		return false
	}
	return true
}
