// Package ordersync creates the group an order asked for at checkout.
package ordersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	"github.com/dalemusser/cohortsync/internal/app/system/keylock"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/app/system/txn"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// CourseCatalog resolves a course id to its display title.
type CourseCatalog interface {
	Title(ctx context.Context, id primitive.ObjectID) (string, error)
}

// Resolver resolves the order's customer to a member.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, email string) (memberresolver.Result, error)
}

// Synchronizer reacts to new orders.
type Synchronizer struct {
	db       *mongo.Database
	orders   *orderstore.Store
	groups   *grouplifecycle.Manager
	resolver Resolver
	courses  CourseCatalog
	locks    *keylock.Locker
	log      *zap.Logger
}

func New(db *mongo.Database, orders *orderstore.Store, groups *grouplifecycle.Manager, resolver Resolver, courses CourseCatalog, locks *keylock.Locker, log *zap.Logger) *Synchronizer {
	return &Synchronizer{
		db:       db,
		orders:   orders,
		groups:   groups,
		resolver: resolver,
		courses:  courses,
		locks:    locks,
		log:      log,
	}
}

// Register subscribes the synchronizer to order creation.
func (s *Synchronizer) Register(bus *events.Bus) {
	bus.Subscribe(events.OrderCreated, "ordersync", s.OnOrderCreated)
}

// OnOrderCreated creates the order's group when the order carries the
// create-group marker and has no group yet. Repeated or concurrent calls
// for the same order create at most one group.
func (s *Synchronizer) OnOrderCreated(ctx context.Context, ev events.Event) error {
	unlock, err := s.locks.Lock(ctx, keylock.OrderKey(ev.OrderID.Hex()))
	if err != nil {
		return err
	}
	g, course, err := s.create(ctx, ev.OrderID)
	unlock()
	if err != nil || g == nil {
		return err
	}

	// The final title carries the group's own id, so it is written after
	// the insert.
	title := fmt.Sprintf("%s Group #%s", s.title(ctx, course), g.ID.Hex())
	if err := s.groups.Retitle(ctx, g.ID, title); err != nil {
		s.log.Warn("retitle created group failed", zap.String("group_id", g.ID.Hex()), zap.Error(err))
	} else {
		g.Title = title
	}

	return s.groups.Announce(ctx, *g, events.CauseOrder)
}

// create runs under the order lock. It returns a nil group when there is
// nothing to do.
func (s *Synchronizer) create(ctx context.Context, orderID primitive.ObjectID) (*models.Group, primitive.ObjectID, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, orderstore.ErrNotFound) {
		s.log.Warn("order created event for unknown order", zap.String("order_id", orderID.Hex()))
		return nil, primitive.NilObjectID, nil
	}
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	if !o.CreateGroup || o.GroupCourseID == nil || o.GroupCourseID.IsZero() {
		return nil, primitive.NilObjectID, nil
	}
	if o.CreatedGroupID != nil {
		return nil, primitive.NilObjectID, nil
	}
	if !o.IsLive() {
		return nil, primitive.NilObjectID, nil
	}
	courseID := *o.GroupCourseID

	customer, err := s.resolver.ResolveOrCreate(ctx, o.CustomerEmail)
	if errors.Is(err, memberresolver.ErrInvalidEmail) {
		s.log.Warn("order customer email is invalid; no group created",
			zap.String("order_id", o.ID.Hex()),
			zap.String("email", o.CustomerEmail))
		return nil, primitive.NilObjectID, nil
	}
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("resolve customer: %w", err)
	}

	derived := status.DerivedEnrollment(o.Status)
	oid := o.ID
	var created models.Group
	err = txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		g, _, err := s.groups.Insert(ctx, grouplifecycle.CreateInput{
			Title:       s.title(ctx, courseID) + " Group",
			Status:      status.GroupStatusFor(derived),
			AuthorID:    customer.User.ID,
			AuthorEmail: customer.User.Email,
			Members:     []string{customer.User.Email},
			CourseData: []models.CourseData{{
				CourseID:       courseID,
				OrderID:        &oid,
				EnrolledStatus: derived,
			}},
		})
		if err != nil {
			return err
		}
		if err := s.orders.LinkCreatedGroup(ctx, o.ID, g.ID); err != nil {
			if errors.Is(err, orderstore.ErrGroupAlreadyLinked) {
				// Without a transaction the insert above stays behind.
				if derr := s.groups.Discard(ctx, g.ID); derr != nil {
					s.log.Warn("discard orphan group failed", zap.String("group_id", g.ID.Hex()), zap.Error(derr))
				}
			}
			return err
		}
		created = g
		return nil
	})
	if errors.Is(err, orderstore.ErrGroupAlreadyLinked) {
		return nil, primitive.NilObjectID, nil
	}
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("create group for order %s: %w", o.ID.Hex(), err)
	}

	s.log.Info("group created for order",
		zap.String("order_id", o.ID.Hex()),
		zap.String("group_id", created.ID.Hex()),
		zap.String("status", created.Status))
	return &created, courseID, nil
}

func (s *Synchronizer) title(ctx context.Context, courseID primitive.ObjectID) string {
	if s.courses != nil {
		if t, err := s.courses.Title(ctx, courseID); err == nil && t != "" {
			return t
		}
	}
	return "Course"
}
