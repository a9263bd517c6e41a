package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	enrollmentstore "github.com/dalemusser/cohortsync/internal/app/store/enrollments"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// target is the status a group drives for one course, and the order the
// enrollment record is linked to.
type target struct {
	CourseID primitive.ObjectID
	OrderID  *primitive.ObjectID
	Status   string
}

// targets computes the effective status per course for g. Trash and delete
// win over recorded statuses: a deleted group, a trashed group (when the
// policy is on) and an entry whose order is trashed, deleted or gone all
// yield inactive. When a course has several entries, an active one wins.
// Courses keep their first-seen order. push drops the active targets of a
// trashed group whatever the policy.
func (e *Engine) targets(ctx context.Context, g models.Group) ([]target, error) {
	orders, err := e.orders.GetMany(ctx, entryOrderIDs(g.CourseData))
	if err != nil {
		return nil, fmt.Errorf("load orders for group %s: %w", g.ID.Hex(), err)
	}

	groupOff := g.Lifecycle == status.LifecycleDeleted ||
		(e.cfg.DeactivateOnStatusChange && g.Lifecycle == status.LifecycleTrashed)

	var out []target
	index := make(map[primitive.ObjectID]int)
	for _, cd := range g.CourseData {
		st := cd.EnrolledStatus
		if st != status.EnrollmentActive {
			st = status.EnrollmentInactive
		}
		if groupOff {
			st = status.EnrollmentInactive
		} else if cd.OrderID != nil {
			if o, ok := orders[*cd.OrderID]; !ok || !o.IsLive() {
				st = status.EnrollmentInactive
			}
		}

		t := target{CourseID: cd.CourseID, OrderID: cd.OrderID, Status: st}
		i, seen := index[cd.CourseID]
		switch {
		case !seen:
			index[cd.CourseID] = len(out)
			out = append(out, t)
		case out[i].Status != status.EnrollmentActive:
			out[i] = t
		}
	}
	return out, nil
}

func anyActive(ts []target) bool {
	for _, t := range ts {
		if t.Status == status.EnrollmentActive {
			return true
		}
	}
	return false
}

// inactiveOnly keeps the inactive targets.
func inactiveOnly(ts []target) []target {
	var out []target
	for _, t := range ts {
		if t.Status != status.EnrollmentActive {
			out = append(out, t)
		}
	}
	return out
}

// push writes the group's targets for each member. With join set, members
// are resolved (created if needed) and joined to the group; otherwise only
// existing members are touched. A member that cannot be resolved is
// skipped.
//
// A group that is not live never activates anyone. Only restore makes its
// entries count again.
func (e *Engine) push(ctx context.Context, g models.Group, members []string, join bool) error {
	if !g.IsLive() {
		join = false
	}
	if len(members) == 0 || (!join && len(g.CourseData) == 0) {
		return nil
	}
	ts, err := e.targets(ctx, g)
	if err != nil {
		return err
	}
	if !g.IsLive() {
		ts = inactiveOnly(ts)
	}

	for _, email := range members {
		member, ok, err := e.member(ctx, g, email, join)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for _, t := range ts {
			if err := e.apply(ctx, g, member, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// member resolves email. ok is false when the member should be skipped.
func (e *Engine) member(ctx context.Context, g models.Group, email string, join bool) (models.User, bool, error) {
	if join {
		res, err := e.resolver.JoinGroup(ctx, email, g)
		if err == nil {
			return res.User, true, nil
		}
		if errors.Is(err, memberresolver.ErrInvalidEmail) {
			e.log.Info("skipping invalid roster email", zap.String("group_id", g.ID.Hex()), zap.String("email", email))
			return models.User{}, false, nil
		}
		return models.User{}, false, e.keepGoing(err, "resolve member failed",
			zap.String("group_id", g.ID.Hex()), zap.String("email", email))
	}

	u, err := e.resolver.Lookup(ctx, email)
	if err == nil {
		return u, true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, memberresolver.ErrInvalidEmail) {
		return models.User{}, false, nil
	}
	return models.User{}, false, e.keepGoing(err, "lookup member failed",
		zap.String("group_id", g.ID.Hex()), zap.String("email", email))
}

// apply writes one (member, course) pair. A demotion is skipped when another
// live group still activates the course for the member.
func (e *Engine) apply(ctx context.Context, g models.Group, member models.User, t target) error {
	fields := []zap.Field{
		zap.String("group_id", g.ID.Hex()),
		zap.String("user_id", member.ID.Hex()),
		zap.String("course_id", t.CourseID.Hex()),
	}

	if t.Status == status.EnrollmentInactive {
		covered, err := e.groups.CoversMember(ctx, t.CourseID, member.Email, g.ID)
		if err != nil {
			return e.keepGoing(err, "coverage check failed", fields...)
		}
		if covered {
			return nil
		}
	}

	res, err := e.enrollments.Upsert(ctx, enrollmentstore.UpsertInput{
		UserID:   member.ID,
		CourseID: t.CourseID,
		GroupID:  g.ID,
		OrderID:  t.OrderID,
		Status:   t.Status,
	})
	if err != nil {
		return e.keepGoing(err, "enrollment upsert failed", fields...)
	}
	if res.Direct {
		return nil
	}
	if res.Created || res.PreviousStatus != t.Status {
		e.log.Debug("enrollment written", append(fields, zap.String("status", t.Status))...)
	}

	if _, err := e.notifier.MemberEnrolled(ctx, g, member, res); err != nil {
		return e.keepGoing(err, "enrolled notice failed", fields...)
	}
	return nil
}

// demote deactivates the group-linked enrollments of removed members,
// except for courses another live group still covers.
func (e *Engine) demote(ctx context.Context, g models.Group, removed []string) error {
	courses := distinctCourses(g.CourseData)
	if len(courses) == 0 {
		return nil
	}
	for _, email := range removed {
		member, ok, err := e.member(ctx, g, email, false)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		var drop []primitive.ObjectID
		for _, c := range courses {
			covered, err := e.groups.CoversMember(ctx, c, member.Email, g.ID)
			if err != nil {
				if err := e.keepGoing(err, "coverage check failed", zap.String("email", email)); err != nil {
					return err
				}
				continue
			}
			if !covered {
				drop = append(drop, c)
			}
		}
		if len(drop) == 0 {
			continue
		}
		if _, err := e.enrollments.DeactivateForGroup(ctx, member.ID, g.ID, drop...); err != nil {
			if err := e.keepGoing(err, "deactivate removed member failed",
				zap.String("group_id", g.ID.Hex()), zap.String("email", email)); err != nil {
				return err
			}
		}
	}
	return nil
}

func entryOrderIDs(cd []models.CourseData) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool)
	var out []primitive.ObjectID
	for _, c := range cd {
		if c.OrderID == nil || seen[*c.OrderID] {
			continue
		}
		seen[*c.OrderID] = true
		out = append(out, *c.OrderID)
	}
	return out
}

func distinctCourses(cd []models.CourseData) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool)
	var out []primitive.ObjectID
	for _, c := range cd {
		if seen[c.CourseID] {
			continue
		}
		seen[c.CourseID] = true
		out = append(out, c.CourseID)
	}
	return out
}
