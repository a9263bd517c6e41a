// internal/app/features/hooks/orders.go
package hooks

import (
	"errors"
	"net/http"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	apierrors "github.com/dalemusser/cohortsync/internal/app/features/errors"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type lineItemInput struct {
	CourseID string `json:"course_id" validate:"required,objectid" label:"Course ID"`
	Quantity int    `json:"quantity" validate:"gte=0" label:"Quantity"`
}

// orderInput is the order snapshot sent by the commerce system.
type orderInput struct {
	ID            string          `json:"id" validate:"required,objectid" label:"Order ID"`
	Status        string          `json:"status" validate:"required,max=32" label:"Status"`
	CustomerID    string          `json:"customer_id" validate:"omitempty,objectid" label:"Customer ID"`
	CustomerEmail string          `json:"customer_email" validate:"max=254" label:"Customer email"`
	LineItems     []lineItemInput `json:"line_items" validate:"dive" label:"Line items"`
	CreateGroup   bool            `json:"create_group"`
	GroupCourseID string          `json:"group_course_id" validate:"omitempty,objectid" label:"Group course ID"`
	GroupIDs      []string        `json:"group_ids" validate:"dive,objectid" label:"Group IDs"`
}

func (in orderInput) order() models.Order {
	id, _ := primitive.ObjectIDFromHex(in.ID)
	o := models.Order{
		ID:            id,
		Status:        in.Status,
		CustomerEmail: in.CustomerEmail,
		CreateGroup:   in.CreateGroup,
	}
	if in.CustomerID != "" {
		o.CustomerID, _ = primitive.ObjectIDFromHex(in.CustomerID)
	}
	for _, li := range in.LineItems {
		cid, _ := primitive.ObjectIDFromHex(li.CourseID)
		o.LineItems = append(o.LineItems, models.OrderLineItem{CourseID: cid, Quantity: li.Quantity})
	}
	if in.GroupCourseID != "" {
		gc, _ := primitive.ObjectIDFromHex(in.GroupCourseID)
		o.GroupCourseID = &gc
	}
	for _, s := range in.GroupIDs {
		gid, _ := primitive.ObjectIDFromHex(s)
		o.GroupIDs = append(o.GroupIDs, gid)
	}
	return o
}

type statusInput struct {
	Status string `json:"status" validate:"required,max=32" label:"Status"`
}

// orderResponse is the body returned by every order hook.
type orderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Lifecycle      string `json:"lifecycle"`
	Created        bool   `json:"created,omitempty"`
	Changed        bool   `json:"changed"`
	CreatedGroupID string `json:"created_group_id,omitempty"`
}

func toResponse(o models.Order, created, changed bool) orderResponse {
	resp := orderResponse{
		ID:        o.ID.Hex(),
		Status:    o.Status,
		Lifecycle: o.Lifecycle,
		Created:   created,
		Changed:   changed,
	}
	if resp.Lifecycle == "" {
		resp.Lifecycle = status.LifecycleActive
	}
	if o.CreatedGroupID != nil {
		resp.CreatedGroupID = o.CreatedGroupID.Hex()
	}
	return resp
}

// ReceiveOrder handles POST /hooks/orders.
//
// The snapshot is upserted. A new order raises OrderCreated followed by
// OrderStatusChanged from ""; a known order raises OrderStatusChanged only
// when its status moved. A "trashed" status trashes a known order.
func (h *Handler) ReceiveOrder(w http.ResponseWriter, r *http.Request) {
	var in orderInput
	if !h.decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	o := in.order()

	st := status.NormalizeOrder(in.Status)
	if st == status.OrderTrashed {
		h.moveOrder(w, r, o.ID, status.LifecycleTrashed)
		return
	}
	if !status.IsOrderStatus(st) {
		h.Audit.PayloadRejected(ctx, r, "unknown order status")
		apierrors.BadRequest(w, "invalid payload", map[string]string{"status": "Status must be a valid order status."})
		return
	}
	o.Status = st

	res, err := h.Orders.Upsert(ctx, o)
	if err != nil {
		apierrors.Server(w, h.Log, "order upsert failed", err, zap.String("order_id", o.ID.Hex()))
		return
	}
	h.Audit.OrderReceived(ctx, r, o.ID, st, res.Created)

	changed := res.Created || res.PreviousStatus != st
	if res.Created {
		ev := events.New(events.OrderCreated, events.CauseOrder)
		ev.OrderID = o.ID
		ev.NewStatus = st
		if !h.publish(w, r, ev) {
			return
		}
	}
	if changed {
		ev := events.New(events.OrderStatusChanged, events.CauseOrder)
		ev.OrderID = o.ID
		ev.OldStatus = res.PreviousStatus
		ev.NewStatus = st
		if !h.publish(w, r, ev) {
			return
		}
	}

	cur, err := h.Orders.GetByID(ctx, o.ID)
	if err != nil {
		apierrors.Server(w, h.Log, "order reload failed", err, zap.String("order_id", o.ID.Hex()))
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	apierrors.JSON(w, code, toResponse(cur, res.Created, changed))
}

// OrderStatus handles POST /hooks/orders/{id}/status.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var in statusInput
	if !h.decode(w, r, &in) {
		return
	}
	ctx := r.Context()

	st := status.NormalizeOrder(in.Status)
	if st == status.OrderTrashed {
		h.moveOrder(w, r, id, status.LifecycleTrashed)
		return
	}
	if !status.IsOrderStatus(st) {
		h.Audit.PayloadRejected(ctx, r, "unknown order status")
		apierrors.BadRequest(w, "invalid payload", map[string]string{"status": "Status must be a valid order status."})
		return
	}

	before, err := h.Orders.SetStatus(ctx, id, st)
	if errors.Is(err, orderstore.ErrNotFound) {
		apierrors.NotFound(w, "order not found")
		return
	}
	if err != nil {
		apierrors.Server(w, h.Log, "order status update failed", err, zap.String("order_id", id.Hex()))
		return
	}

	changed := before.Status != st
	if changed {
		h.Audit.OrderStatus(ctx, r, id, before.Status, st)
		ev := events.New(events.OrderStatusChanged, events.CauseOrder)
		ev.OrderID = id
		ev.OldStatus = before.Status
		ev.NewStatus = st
		if !h.publish(w, r, ev) {
			return
		}
	}
	h.respondOrder(w, r, id, changed)
}

// TrashOrder handles POST /hooks/orders/{id}/trash.
func (h *Handler) TrashOrder(w http.ResponseWriter, r *http.Request) {
	if id, ok := orderID(w, r); ok {
		h.moveOrder(w, r, id, status.LifecycleTrashed)
	}
}

// DeleteOrder handles POST /hooks/orders/{id}/delete.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if id, ok := orderID(w, r); ok {
		h.moveOrder(w, r, id, status.LifecycleDeleted)
	}
}

// RestoreOrder handles POST /hooks/orders/{id}/restore.
func (h *Handler) RestoreOrder(w http.ResponseWriter, r *http.Request) {
	if id, ok := orderID(w, r); ok {
		h.moveOrder(w, r, id, status.LifecycleActive)
	}
}

// moveOrder applies a lifecycle transition. Trash applies to active
// orders, restore to trashed orders, and delete to anything not already
// deleted. A deleted order is a tombstone: trash and restore answer 409.
// Repeating a transition is a no-op.
func (h *Handler) moveOrder(w http.ResponseWriter, r *http.Request, id primitive.ObjectID, to string) {
	ctx := r.Context()
	o, err := h.Orders.GetByID(ctx, id)
	if errors.Is(err, orderstore.ErrNotFound) {
		apierrors.NotFound(w, "order not found")
		return
	}
	if err != nil {
		apierrors.Server(w, h.Log, "order load failed", err, zap.String("order_id", id.Hex()))
		return
	}

	from := o.Lifecycle
	if from == "" {
		from = status.LifecycleActive
	}
	if from == to {
		apierrors.JSON(w, http.StatusOK, toResponse(o, false, false))
		return
	}

	var kind events.Kind
	switch to {
	case status.LifecycleTrashed:
		kind = events.OrderTrashed
	case status.LifecycleDeleted:
		kind = events.OrderDeleted
	default:
		kind = events.OrderRestored
	}
	if from == status.LifecycleDeleted || (to == status.LifecycleActive && from != status.LifecycleTrashed) {
		apierrors.Conflict(w, "order is "+from)
		return
	}

	if _, err := h.Orders.SetLifecycle(ctx, id, to); err != nil {
		apierrors.Server(w, h.Log, "order lifecycle update failed", err, zap.String("order_id", id.Hex()))
		return
	}
	h.Audit.OrderLifecycle(ctx, r, id, to)
	h.Log.Info("order lifecycle changed",
		zap.String("order_id", id.Hex()),
		zap.String("old", from),
		zap.String("new", to))

	ev := events.New(kind, events.CauseOrder)
	ev.OrderID = id
	if !h.publish(w, r, ev) {
		return
	}
	h.respondOrder(w, r, id, true)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, id primitive.ObjectID, changed bool) {
	o, err := h.Orders.GetByID(r.Context(), id)
	if err != nil {
		apierrors.Server(w, h.Log, "order reload failed", err, zap.String("order_id", id.Hex()))
		return
	}
	apierrors.JSON(w, http.StatusOK, toResponse(o, false, changed))
}

func orderID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.BadRequest(w, "bad order id", nil)
		return primitive.NilObjectID, false
	}
	return id, true
}
