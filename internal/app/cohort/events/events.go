// Package events is the in-process dispatcher for order and group lifecycle
// events. Handlers run synchronously in registration order.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/dberr"
	"github.com/dalemusser/cohortsync/internal/app/system/tracing"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	OrderCreated       Kind = "order.created"
	OrderStatusChanged Kind = "order.status_changed"
	OrderTrashed       Kind = "order.trashed"
	OrderDeleted       Kind = "order.deleted"
	OrderRestored      Kind = "order.restored"

	GroupCreated       Kind = "group.created"
	GroupStatusChanged Kind = "group.status_changed"
	GroupTrashed       Kind = "group.trashed"
	GroupDeleted       Kind = "group.deleted"
	GroupRestored      Kind = "group.restored"
	GroupRosterUpdated Kind = "group.roster_updated"
)

// Cause records who initiated a change.
type Cause string

const (
	CauseAuthor Cause = "author" // group author or admin
	CauseOrder  Cause = "order"  // order lifecycle propagation
	CauseSystem Cause = "system" // reconcile and other background work
)

// Event is one lifecycle occurrence. Only the fields relevant to Kind are set.
type Event struct {
	ID       string
	Kind     Kind
	RaisedAt time.Time
	Cause    Cause

	OrderID primitive.ObjectID
	GroupID primitive.ObjectID

	// Status transitions (OrderStatusChanged, GroupStatusChanged).
	OldStatus string
	NewStatus string

	// Roster changes (GroupRosterUpdated).
	Added   []string
	Removed []string
}

// New stamps an event with an id and the current time.
func New(kind Kind, cause Cause) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		RaisedAt: time.Now().UTC(),
		Cause:    cause,
	}
}

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

// Observer sees every published event with the outcome of its handlers.
type Observer func(ctx context.Context, ev Event, err error)

type subscription struct {
	name string
	fn   Handler
}

// Bus dispatches events to handlers.
type Bus struct {
	log *zap.Logger

	mu        sync.RWMutex
	handlers  map[Kind][]subscription
	observers []Observer
}

// NewBus returns an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log, handlers: make(map[Kind][]subscription)}
}

// Subscribe appends a handler for kind. Handlers for the same kind run in
// the order they were subscribed.
func (b *Bus) Subscribe(kind Kind, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], subscription{name: name, fn: fn})
}

// Observe registers fn to be called after each Publish.
func (b *Bus) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Publish runs every handler subscribed to ev.Kind. A handler error is
// logged and the remaining handlers still run, except when the error means
// persistence is unavailable: then dispatch stops and the error is returned.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.RaisedAt.IsZero() {
		ev.RaisedAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Kind]...)
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	ctx, span := tracing.Tracer().Start(ctx, "events."+string(ev.Kind))
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.cause", string(ev.Cause)),
	)
	if !ev.OrderID.IsZero() {
		span.SetAttributes(attribute.String("order.id", ev.OrderID.Hex()))
	}
	if !ev.GroupID.IsZero() {
		span.SetAttributes(attribute.String("group.id", ev.GroupID.Hex()))
	}
	defer span.End()

	var result error
	for _, s := range subs {
		err := s.fn(ctx, ev)
		if err == nil {
			continue
		}
		if dberr.IsUnavailable(err) {
			result = fmt.Errorf("%s handler %s: %w", ev.Kind, s.name, err)
			break
		}
		b.log.Error("event handler failed",
			append(Fields(ev), zap.String("handler", s.name), zap.Error(err))...)
		if result == nil {
			result = fmt.Errorf("%s handler %s: %w", ev.Kind, s.name, err)
		}
	}

	if result != nil {
		span.RecordError(result)
		span.SetStatus(codes.Error, result.Error())
	}
	for _, o := range observers {
		o(ctx, ev, result)
	}

	if result != nil && !dberr.IsUnavailable(result) {
		// Already logged; non-fatal handler errors do not fail the publisher.
		return nil
	}
	return result
}

// Fields returns zap fields describing ev.
func Fields(ev Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event", string(ev.Kind)),
		zap.String("event_id", ev.ID),
		zap.String("cause", string(ev.Cause)),
	}
	if !ev.OrderID.IsZero() {
		fields = append(fields, zap.String("order_id", ev.OrderID.Hex()))
	}
	if !ev.GroupID.IsZero() {
		fields = append(fields, zap.String("group_id", ev.GroupID.Hex()))
	}
	return fields
}
