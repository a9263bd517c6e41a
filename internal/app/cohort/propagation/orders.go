package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	"github.com/dalemusser/cohortsync/internal/app/system/keylock"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// OnOrderStatusChanged applies the order's new status to every group it
// feeds. Completed activates the order's entries and publishes its created
// group; any other status deactivates them and returns the group to draft.
// A trashed group records the new entries but activates no one and keeps
// its status until it is restored.
func (e *Engine) OnOrderStatusChanged(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "order_status_changed", ev)
	defer func() { endSpan(span, err) }()
	return e.withOrder(ctx, ev.OrderID, e.applyOrder)
}

// OnOrderRestored re-applies the restored order's status. Restore is the
// only way entries of a trashed order become active again.
func (e *Engine) OnOrderRestored(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "order_restored", ev)
	defer func() { endSpan(span, err) }()
	return e.withOrder(ctx, ev.OrderID, e.applyOrder)
}

// OnOrderTrashed demotes every enrollment the order feeds, whatever its
// status says.
func (e *Engine) OnOrderTrashed(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "order_trashed", ev)
	defer func() { endSpan(span, err) }()
	return e.withOrder(ctx, ev.OrderID, e.demoteOrder)
}

// OnOrderDeleted is OnOrderTrashed for tombstoned orders.
func (e *Engine) OnOrderDeleted(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "order_deleted", ev)
	defer func() { endSpan(span, err) }()
	return e.withOrder(ctx, ev.OrderID, e.demoteOrder)
}

// withOrder runs fn under the order's lock. A missing order is logged and
// skipped.
func (e *Engine) withOrder(ctx context.Context, id primitive.ObjectID, fn func(ctx context.Context, o models.Order) error) error {
	unlock, err := e.locks.Lock(ctx, keylock.OrderKey(id.Hex()))
	if err != nil {
		return err
	}
	defer unlock()

	o, err := e.orders.GetByID(ctx, id)
	if errors.Is(err, orderstore.ErrNotFound) {
		e.log.Info("order vanished; skipping", zap.String("order_id", id.Hex()))
		return nil
	}
	if err != nil {
		return err
	}
	return fn(ctx, o)
}

func (e *Engine) applyOrder(ctx context.Context, o models.Order) error {
	if !o.IsLive() {
		// Trash wins over status until the order is restored.
		return nil
	}
	derived := status.DerivedEnrollment(o.Status)
	if o.CreatedGroupID != nil {
		live, err := e.createdGroupLive(ctx, o)
		if err != nil {
			return err
		}
		if live {
			if err := e.setCreatedGroupStatus(ctx, o, status.GroupStatusFor(derived)); err != nil {
				return err
			}
		}
	}

	ids, err := e.referencedGroups(ctx, o)
	if err != nil {
		return err
	}
	for _, gid := range ids {
		err := e.withGroup(ctx, gid, func(g models.Group) error {
			if g.Lifecycle == status.LifecycleDeleted {
				return nil
			}
			var courses []primitive.ObjectID
			if derived == status.EnrollmentActive {
				courses = orderCourses(o, g)
			}
			cd, changed := mergeOrder(g.CourseData, o, courses, derived)
			if changed {
				if err := e.groups.SetCourseData(ctx, g.ID, cd); err != nil {
					return fmt.Errorf("save course data: %w", err)
				}
				g.CourseData = cd
			}
			return e.push(ctx, g, g.Members, derived == status.EnrollmentActive)
		})
		if err := e.keepGoing(err, "apply order to group failed",
			zap.String("order_id", o.ID.Hex()), zap.String("group_id", gid.Hex())); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) demoteOrder(ctx context.Context, o models.Order) error {
	if e.cfg.DeactivateOnStatusChange && o.CreatedGroupID != nil {
		if err := e.setCreatedGroupStatus(ctx, o, status.GroupDraft); err != nil {
			return err
		}
	}

	ids, err := e.referencedGroups(ctx, o)
	if err != nil {
		return err
	}
	for _, gid := range ids {
		err := e.withGroup(ctx, gid, func(g models.Group) error {
			if len(g.Members) == 0 {
				return nil
			}
			cd, changed := mergeOrder(g.CourseData, o, nil, status.EnrollmentInactive)
			if changed && g.Lifecycle != status.LifecycleDeleted {
				if err := e.groups.SetCourseData(ctx, g.ID, cd); err != nil {
					return fmt.Errorf("save course data: %w", err)
				}
				g.CourseData = cd
			}
			return e.push(ctx, g, g.Members, false)
		})
		if err := e.keepGoing(err, "demote order group failed",
			zap.String("order_id", o.ID.Hex()), zap.String("group_id", gid.Hex())); err != nil {
			return err
		}
	}
	return nil
}

// setCreatedGroupStatus moves the order's own group. It runs outside any
// group lock because the status change is published.
func (e *Engine) setCreatedGroupStatus(ctx context.Context, o models.Order, to string) error {
	_, err := e.lifecycle.SetStatus(ctx, *o.CreatedGroupID, to, events.CauseOrder)
	if errors.Is(err, groupstore.ErrNotFound) || errors.Is(err, grouplifecycle.ErrGroupDeleted) {
		return nil
	}
	return e.keepGoing(err, "set created group status failed",
		zap.String("order_id", o.ID.Hex()), zap.String("group_id", o.CreatedGroupID.Hex()))
}

// createdGroupLive reports whether the order's created group exists and is
// neither trashed nor deleted.
func (e *Engine) createdGroupLive(ctx context.Context, o models.Order) (bool, error) {
	g, err := e.groups.GetByID(ctx, *o.CreatedGroupID)
	if errors.Is(err, groupstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, e.keepGoing(err, "load created group failed",
			zap.String("order_id", o.ID.Hex()), zap.String("group_id", o.CreatedGroupID.Hex()))
	}
	return g.IsLive(), nil
}

// resumeCreatedGroup brings a restored group's status back in line with the
// live orders that created it. Changes those orders made while the group
// was trashed were held back.
func (e *Engine) resumeCreatedGroup(ctx context.Context, groupID primitive.ObjectID) error {
	g, err := e.groups.GetByID(ctx, groupID)
	if errors.Is(err, groupstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !g.IsLive() {
		return nil
	}
	for _, oid := range entryOrderIDs(g.CourseData) {
		err := e.withOrder(ctx, oid, func(ctx context.Context, o models.Order) error {
			if !o.IsLive() || o.CreatedGroupID == nil || *o.CreatedGroupID != g.ID {
				return nil
			}
			return e.setCreatedGroupStatus(ctx, o, status.GroupStatusFor(status.DerivedEnrollment(o.Status)))
		})
		if err := e.keepGoing(err, "resume created group failed",
			zap.String("order_id", oid.Hex()), zap.String("group_id", g.ID.Hex())); err != nil {
			return err
		}
	}
	return nil
}

// referencedGroups returns the created group, the legacy group list and any
// group whose course data names the order.
func (e *Engine) referencedGroups(ctx context.Context, o models.Order) ([]primitive.ObjectID, error) {
	ids := o.OwnedGroupIDs()
	linked, err := e.groups.ListIDsByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("list groups for order %s: %w", o.ID.Hex(), err)
	}
	seen := make(map[primitive.ObjectID]bool, len(ids)+len(linked))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range linked {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// orderCourses lists the courses an order should have entries for in g. The
// created group carries only the group course; a legacy group carries every
// course on the order. Other groups keep the courses they already have
// entries for.
func orderCourses(o models.Order, g models.Group) []primitive.ObjectID {
	if o.CreatedGroupID != nil && *o.CreatedGroupID == g.ID && o.GroupCourseID != nil {
		return []primitive.ObjectID{*o.GroupCourseID}
	}
	for _, id := range o.GroupIDs {
		if id == g.ID {
			if cs := o.CourseIDs(); len(cs) > 0 {
				return cs
			}
		}
	}
	var matching []models.CourseData
	for _, c := range g.CourseData {
		if c.MatchesOrder(o.ID) {
			matching = append(matching, c)
		}
	}
	return distinctCourses(matching)
}

// mergeOrder sets the status of o's entries in cd. For each course in
// courses the most recent entry for (course, o) is updated, or a new entry
// is appended. With no courses every entry for o is updated. Entries for
// other orders are never touched. The input slice is not modified.
func mergeOrder(cd []models.CourseData, o models.Order, courses []primitive.ObjectID, st string) ([]models.CourseData, bool) {
	out := make([]models.CourseData, len(cd))
	copy(out, cd)
	changed := false

	if len(courses) == 0 {
		for i := range out {
			if out[i].MatchesOrder(o.ID) && out[i].EnrolledStatus != st {
				out[i].EnrolledStatus = st
				changed = true
			}
		}
		return out, changed
	}

	for _, c := range courses {
		idx := -1
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].CourseID == c && out[i].MatchesOrder(o.ID) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			if out[idx].EnrolledStatus != st {
				out[idx].EnrolledStatus = st
				changed = true
			}
			continue
		}
		if st != status.EnrollmentActive {
			// Nothing to deactivate.
			continue
		}
		oid := o.ID
		out = append(out, models.CourseData{CourseID: c, OrderID: &oid, EnrolledStatus: st})
		changed = true
	}
	return out, changed
}
