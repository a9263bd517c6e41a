package propagation

import (
	"context"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OnGroupCreated pushes the group's entries to its initial roster.
func (e *Engine) OnGroupCreated(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "group_created", ev)
	defer func() { endSpan(span, err) }()
	return e.withGroup(ctx, ev.GroupID, func(g models.Group) error {
		return e.push(ctx, g, g.Members, true)
	})
}

// OnGroupStatusChanged rewrites the group's entries from an author's
// status edit: published activates every entry whose order is still live,
// draft deactivates them all. Changes caused by order propagation are
// ignored because the order handler already wrote the entries. Without the
// policy switch, status edits never touch enrollments.
func (e *Engine) OnGroupStatusChanged(ctx context.Context, ev events.Event) (err error) {
	if ev.Cause == events.CauseOrder || !e.cfg.DeactivateOnStatusChange {
		return nil
	}
	ctx, span := e.span(ctx, "group_status_changed", ev)
	defer func() { endSpan(span, err) }()
	return e.withGroup(ctx, ev.GroupID, e.rewriteFromStatus(ctx))
}

// OnGroupRestored first applies the status of the live orders that created
// the group, which was held back while it was trashed. With the policy
// switch on, entries are then recomputed from the group's status; with it
// off the group's current entries are pushed as a reconcile would.
func (e *Engine) OnGroupRestored(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "group_restored", ev)
	defer func() { endSpan(span, err) }()
	if err := e.resumeCreatedGroup(ctx, ev.GroupID); err != nil {
		return err
	}
	if !e.cfg.DeactivateOnStatusChange {
		return e.Reconcile(ctx, ev.GroupID)
	}
	return e.withGroup(ctx, ev.GroupID, e.rewriteFromStatus(ctx))
}

// OnGroupTrashed demotes every member of a trashed group. Gated by the
// policy switch; entries are left as they are so restore can recompute.
func (e *Engine) OnGroupTrashed(ctx context.Context, ev events.Event) (err error) {
	if !e.cfg.DeactivateOnStatusChange {
		return nil
	}
	ctx, span := e.span(ctx, "group_trashed", ev)
	defer func() { endSpan(span, err) }()
	return e.withGroup(ctx, ev.GroupID, func(g models.Group) error {
		return e.push(ctx, g, g.Members, false)
	})
}

// OnGroupDeleted demotes every member of a deleted group. A group is never
// tombstoned with active records, so this ignores the policy switch.
func (e *Engine) OnGroupDeleted(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "group_deleted", ev)
	defer func() { endSpan(span, err) }()
	return e.withGroup(ctx, ev.GroupID, func(g models.Group) error {
		return e.push(ctx, g, g.Members, false)
	})
}

// OnGroupRosterUpdated joins and enrolls added members and demotes removed
// ones.
func (e *Engine) OnGroupRosterUpdated(ctx context.Context, ev events.Event) (err error) {
	ctx, span := e.span(ctx, "group_roster_updated", ev)
	defer func() { endSpan(span, err) }()
	return e.withGroup(ctx, ev.GroupID, func(g models.Group) error {
		// Only members still on the roster are pushed; a later edit may
		// already have removed some.
		var added []string
		for _, m := range ev.Added {
			if g.HasMember(m) {
				added = append(added, m)
			}
		}
		if err := e.push(ctx, g, added, true); err != nil {
			return err
		}
		var removed []string
		for _, m := range ev.Removed {
			if !g.HasMember(m) {
				removed = append(removed, m)
			}
		}
		return e.demote(ctx, g, removed)
	})
}

func (e *Engine) rewriteFromStatus(ctx context.Context) func(g models.Group) error {
	return func(g models.Group) error {
		if g.Lifecycle == status.LifecycleDeleted {
			return nil
		}
		cd, changed, err := e.entriesForStatus(ctx, g)
		if err != nil {
			return err
		}
		if changed {
			if err := e.groups.SetCourseData(ctx, g.ID, cd); err != nil {
				return fmt.Errorf("save course data: %w", err)
			}
			g.CourseData = cd
		}
		return e.push(ctx, g, g.Members, g.Status == status.GroupPublished)
	}
}

// entriesForStatus maps the group's workflow status onto its entries.
func (e *Engine) entriesForStatus(ctx context.Context, g models.Group) ([]models.CourseData, bool, error) {
	var orders map[primitive.ObjectID]models.Order
	if g.Status == status.GroupPublished {
		var err error
		orders, err = e.orders.GetMany(ctx, entryOrderIDs(g.CourseData))
		if err != nil {
			return nil, false, fmt.Errorf("load orders for group %s: %w", g.ID.Hex(), err)
		}
	}

	out := make([]models.CourseData, len(g.CourseData))
	copy(out, g.CourseData)
	changed := false
	for i := range out {
		want := status.EnrollmentInactive
		if g.Status == status.GroupPublished {
			want = status.EnrollmentActive
			if id := out[i].OrderID; id != nil {
				if o, ok := orders[*id]; !ok || !o.IsLive() {
					want = status.EnrollmentInactive
				}
			}
		}
		if out[i].EnrolledStatus != want {
			out[i].EnrolledStatus = want
			changed = true
		}
	}
	return out, changed, nil
}
