// internal/app/features/groups/events.go
package groups

import (
	"context"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	"github.com/dalemusser/cohortsync/internal/app/store/audit"
	"github.com/dalemusser/waffle/pantry/query"
)

// AuditTrail reads recorded audit events.
type AuditTrail interface {
	List(ctx context.Context, f audit.Filter, limit, offset int64) ([]audit.Event, error)
	Count(ctx context.Context, f audit.Filter) (int64, error)
}

type eventsResponse struct {
	Events []audit.Event `json:"events"`
	Total  int64         `json:"total"`
}

// Events handles GET /groups/{id}/events: the group's audit trail, newest
// first.
//
// Query: category, type, failed=true, since and until (RFC 3339),
// limit (max 200), offset.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := groupID(w, r)
	if !ok {
		return
	}
	if _, err := h.Groups.GetByID(r.Context(), id); err != nil {
		h.fail(w, id, "load group failed", err)
		return
	}

	f := audit.Filter{
		GroupID:    &id,
		Category:   query.Get(r, "category"),
		EventType:  query.Get(r, "type"),
		FailedOnly: query.Get(r, "failed") == "true",
	}
	fields := map[string]string{}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := query.Get(r, name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fields[name] = "Must be an RFC 3339 timestamp."
			continue
		}
		*dst = t
	}
	limit := intParam(r, "limit", audit.DefaultLimit)
	if limit < 1 || limit > 200 {
		fields["limit"] = "Limit must be between 1 and 200."
	}
	offset := intParam(r, "offset", 0)
	if offset < 0 {
		fields["offset"] = "Offset must not be negative."
	}
	if len(fields) > 0 {
		apierrors.BadRequest(w, "invalid payload", fields)
		return
	}

	evs, err := h.Trail.List(r.Context(), f, limit, offset)
	if err != nil {
		h.fail(w, id, "list audit events failed", err)
		return
	}
	total, err := h.Trail.Count(r.Context(), f)
	if err != nil {
		h.fail(w, id, "count audit events failed", err)
		return
	}
	apierrors.JSON(w, http.StatusOK, eventsResponse{Events: evs, Total: total})
}

// intParam parses a query parameter, returning def when absent and -1 when
// malformed.
func intParam(r *http.Request, name string, def int64) int64 {
	v := query.Get(r, name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
