// Package propagation keeps enrollment records in step with the orders and
// groups that drive them.
//
// Every handler recomputes the desired status for each (member, course)
// pair of the groups it touches and writes it through the enrollment
// store. Writes are idempotent, so re-running a handler, or the reconcile
// sweep, converges after a partial failure.
package propagation

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	enrollmentstore "github.com/dalemusser/cohortsync/internal/app/store/enrollments"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/dberr"
	"github.com/dalemusser/cohortsync/internal/app/system/keylock"
	"github.com/dalemusser/cohortsync/internal/app/system/tracing"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderStore reads mirrored orders.
type OrderStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Order, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Order, error)
}

// GroupStore reads groups and writes their course data.
type GroupStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Group, error)
	SetCourseData(ctx context.Context, id primitive.ObjectID, cd []models.CourseData) error
	ListIDsByOrder(ctx context.Context, orderID primitive.ObjectID) ([]primitive.ObjectID, error)
	CoversMember(ctx context.Context, courseID primitive.ObjectID, email string, exclude primitive.ObjectID) (bool, error)
	ListIDsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]primitive.ObjectID, error)
}

// EnrollmentStore writes enrollment records.
type EnrollmentStore interface {
	Upsert(ctx context.Context, in enrollmentstore.UpsertInput) (enrollmentstore.UpsertResult, error)
	DeactivateForGroup(ctx context.Context, userID, groupID primitive.ObjectID, courseIDs ...primitive.ObjectID) (int64, error)
}

// StatusSetter changes a group's workflow status. The group lifecycle
// manager implements it.
type StatusSetter interface {
	SetStatus(ctx context.Context, id primitive.ObjectID, newStatus string, cause events.Cause) (bool, error)
}

// Resolver resolves roster emails to members.
type Resolver interface {
	JoinGroup(ctx context.Context, email string, g models.Group) (memberresolver.Result, error)
	Lookup(ctx context.Context, email string) (models.User, error)
}

// Notifier sends the enrolled notice.
type Notifier interface {
	MemberEnrolled(ctx context.Context, g models.Group, member models.User, res enrollmentstore.UpsertResult) (bool, error)
}

// Config holds the operator switches.
type Config struct {
	// DeactivateOnStatusChange lets group status edits, group trash and
	// the status recompute on restore drive enrollment records. When off,
	// status edits and trash never touch enrollments and restore only
	// re-pushes the group's entries. It also lets order trash/delete set
	// the order's created group back to draft. A trashed group never
	// activates anyone either way.
	DeactivateOnStatusChange bool

	// Parallelism bounds the groups reconciled at once.
	Parallelism int
}

// Engine applies lifecycle events to enrollments.
type Engine struct {
	orders      OrderStore
	groups      GroupStore
	enrollments EnrollmentStore
	lifecycle   StatusSetter
	resolver    Resolver
	notifier    Notifier
	locks       *keylock.Locker
	cfg         Config
	log         *zap.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Orders      OrderStore
	Groups      GroupStore
	Enrollments EnrollmentStore
	Lifecycle   StatusSetter
	Resolver    Resolver
	Notifier    Notifier
	Locks       *keylock.Locker
}

func New(d Deps, cfg Config, log *zap.Logger) *Engine {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	return &Engine{
		orders:      d.Orders,
		groups:      d.Groups,
		enrollments: d.Enrollments,
		lifecycle:   d.Lifecycle,
		resolver:    d.Resolver,
		notifier:    d.Notifier,
		locks:       d.Locks,
		cfg:         cfg,
		log:         log,
	}
}

// Register subscribes the engine's handlers. Register it after the order
// synchronizer so a new order's group exists before its status is applied.
func (e *Engine) Register(bus *events.Bus) {
	bus.Subscribe(events.OrderStatusChanged, "propagation", e.OnOrderStatusChanged)
	bus.Subscribe(events.OrderTrashed, "propagation", e.OnOrderTrashed)
	bus.Subscribe(events.OrderDeleted, "propagation", e.OnOrderDeleted)
	bus.Subscribe(events.OrderRestored, "propagation", e.OnOrderRestored)

	bus.Subscribe(events.GroupCreated, "propagation", e.OnGroupCreated)
	bus.Subscribe(events.GroupStatusChanged, "propagation", e.OnGroupStatusChanged)
	bus.Subscribe(events.GroupTrashed, "propagation", e.OnGroupTrashed)
	bus.Subscribe(events.GroupDeleted, "propagation", e.OnGroupDeleted)
	bus.Subscribe(events.GroupRestored, "propagation", e.OnGroupRestored)
	bus.Subscribe(events.GroupRosterUpdated, "propagation", e.OnGroupRosterUpdated)
}

func (e *Engine) span(ctx context.Context, name string, ev events.Event) (context.Context, trace.Span) {
	ctx, span := tracing.Tracer().Start(ctx, "propagation."+name)
	span.SetAttributes(attribute.String("event.cause", string(ev.Cause)))
	if !ev.OrderID.IsZero() {
		span.SetAttributes(attribute.String("order.id", ev.OrderID.Hex()))
	}
	if !ev.GroupID.IsZero() {
		span.SetAttributes(attribute.String("group.id", ev.GroupID.Hex()))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withGroup runs fn under the group's lock with a fresh copy of the group.
// A missing group is logged and skipped.
func (e *Engine) withGroup(ctx context.Context, id primitive.ObjectID, fn func(g models.Group) error) error {
	unlock, err := e.locks.Lock(ctx, keylock.GroupKey(id.Hex()))
	if err != nil {
		return err
	}
	defer unlock()

	g, err := e.groups.GetByID(ctx, id)
	if errors.Is(err, groupstore.ErrNotFound) {
		e.log.Info("group vanished; skipping", zap.String("group_id", id.Hex()))
		return nil
	}
	if err != nil {
		return err
	}
	return fn(g)
}

// keepGoing decides whether a per-group or per-member failure ends the
// cycle. Only persistence unavailability does; everything else is logged.
func (e *Engine) keepGoing(err error, msg string, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	if dberr.IsUnavailable(err) {
		return err
	}
	e.log.Warn(msg, append(fields, zap.Error(err))...)
	return nil
}
