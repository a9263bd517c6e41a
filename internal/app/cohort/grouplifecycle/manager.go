// Package grouplifecycle owns every change to a group's workflow status,
// lifecycle state and roster, and announces each change on the event bus.
package grouplifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/htmlsanitize"
	"github.com/dalemusser/cohortsync/internal/app/system/inputval"
	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	// ErrGroupDeleted is returned for changes to a deleted group.
	ErrGroupDeleted = errors.New("group is deleted")
	// ErrNotTrashed is returned by Restore for a group that is not in the trash.
	ErrNotTrashed = errors.New("group is not trashed")
	// ErrBadStatus is returned for an unknown workflow status.
	ErrBadStatus = errors.New(`status must be "draft" or "published"`)
)

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Manager applies group changes and publishes the matching events.
type Manager struct {
	groups *groupstore.Store
	bus    Publisher
	log    *zap.Logger
}

func New(groups *groupstore.Store, bus Publisher, log *zap.Logger) *Manager {
	return &Manager{groups: groups, bus: bus, log: log}
}

// CreateInput describes a new group.
type CreateInput struct {
	Title       string
	Description string
	Status      string
	AuthorID    primitive.ObjectID
	AuthorEmail string
	Members     []string
	CourseData  []models.CourseData
}

// Insert stores a new group without announcing it. Use it inside a
// transaction and call Announce after commit. Invalid member emails are
// dropped and returned.
func (m *Manager) Insert(ctx context.Context, in CreateInput) (models.Group, []string, error) {
	if in.Status == "" {
		in.Status = status.GroupDraft
	}
	if !status.IsGroupStatus(in.Status) {
		return models.Group{}, nil, ErrBadStatus
	}
	members, invalid := cleanEmails(in.Members)
	g, err := m.groups.Insert(ctx, models.Group{
		Title:       in.Title,
		Description: htmlsanitize.Sanitize(in.Description),
		Status:      in.Status,
		AuthorID:    in.AuthorID,
		AuthorEmail: in.AuthorEmail,
		Members:     members,
		CourseData:  in.CourseData,
	})
	if err != nil {
		return models.Group{}, nil, fmt.Errorf("insert group: %w", err)
	}
	return g, invalid, nil
}

// Announce publishes GroupCreated for a stored group.
func (m *Manager) Announce(ctx context.Context, g models.Group, cause events.Cause) error {
	ev := events.New(events.GroupCreated, cause)
	ev.GroupID = g.ID
	ev.NewStatus = g.Status
	ev.Added = g.Members
	return m.bus.Publish(ctx, ev)
}

// Create inserts and announces a group.
func (m *Manager) Create(ctx context.Context, in CreateInput, cause events.Cause) (models.Group, []string, error) {
	g, invalid, err := m.Insert(ctx, in)
	if err != nil {
		return models.Group{}, nil, err
	}
	m.log.Info("group created",
		zap.String("group_id", g.ID.Hex()),
		zap.String("status", g.Status),
		zap.Int("members", len(g.Members)))
	return g, invalid, m.Announce(ctx, g, cause)
}

// UpdateInput edits a group's descriptive fields. An empty Title or a nil
// Description keeps the current value.
type UpdateInput struct {
	Title       string
	Description *string
}

// Update edits title and description. It never changes status or roster
// and publishes nothing.
func (m *Manager) Update(ctx context.Context, id primitive.ObjectID, in UpdateInput) error {
	if _, err := m.live(ctx, id); err != nil {
		return err
	}
	var desc *string
	if in.Description != nil {
		clean := htmlsanitize.Sanitize(*in.Description)
		desc = &clean
	}
	return m.groups.UpdateInfo(ctx, id, in.Title, desc)
}

// Retitle replaces only the title.
func (m *Manager) Retitle(ctx context.Context, id primitive.ObjectID, title string) error {
	if _, err := m.live(ctx, id); err != nil {
		return err
	}
	return m.groups.UpdateInfo(ctx, id, title, nil)
}

// SetStatus moves the group to newStatus. GroupStatusChanged is published
// only when the stored value changed. Returns whether it changed.
func (m *Manager) SetStatus(ctx context.Context, id primitive.ObjectID, newStatus string, cause events.Cause) (bool, error) {
	if !status.IsGroupStatus(newStatus) {
		return false, ErrBadStatus
	}
	if _, err := m.live(ctx, id); err != nil {
		return false, err
	}
	old, err := m.groups.SetStatus(ctx, id, newStatus)
	if err != nil {
		return false, err
	}
	if old == newStatus {
		return false, nil
	}

	m.log.Info("group status changed",
		zap.String("group_id", id.Hex()),
		zap.String("old", old),
		zap.String("new", newStatus),
		zap.String("cause", string(cause)))

	ev := events.New(events.GroupStatusChanged, cause)
	ev.GroupID = id
	ev.OldStatus = old
	ev.NewStatus = newStatus
	return true, m.bus.Publish(ctx, ev)
}

// AddMembers adds emails to the roster. Emails are normalized and invalid
// ones are dropped and returned. GroupRosterUpdated is published when
// anything was added.
func (m *Manager) AddMembers(ctx context.Context, id primitive.ObjectID, emails []string, cause events.Cause) (added, invalid []string, err error) {
	if _, err := m.live(ctx, id); err != nil {
		return nil, nil, err
	}
	clean, invalid := cleanEmails(emails)
	added, err = m.groups.AddMembers(ctx, id, clean)
	if err != nil {
		return nil, invalid, err
	}
	if len(added) == 0 {
		return nil, invalid, nil
	}
	ev := events.New(events.GroupRosterUpdated, cause)
	ev.GroupID = id
	ev.Added = added
	return added, invalid, m.bus.Publish(ctx, ev)
}

// RemoveMembers removes emails from the roster and publishes
// GroupRosterUpdated when anything was removed.
func (m *Manager) RemoveMembers(ctx context.Context, id primitive.ObjectID, emails []string, cause events.Cause) ([]string, error) {
	if _, err := m.live(ctx, id); err != nil {
		return nil, err
	}
	clean := normalize.Emails(emails)
	removed, err := m.groups.RemoveMembers(ctx, id, clean)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	ev := events.New(events.GroupRosterUpdated, cause)
	ev.GroupID = id
	ev.Removed = removed
	return removed, m.bus.Publish(ctx, ev)
}

// Trash moves an active group to the trash.
func (m *Manager) Trash(ctx context.Context, id primitive.ObjectID, cause events.Cause) (bool, error) {
	if _, err := m.live(ctx, id); err != nil {
		return false, err
	}
	return m.setLifecycle(ctx, id, status.LifecycleTrashed, events.GroupTrashed, cause)
}

// Restore brings a trashed group back.
func (m *Manager) Restore(ctx context.Context, id primitive.ObjectID, cause events.Cause) (bool, error) {
	g, err := m.groups.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	switch g.Lifecycle {
	case status.LifecycleDeleted:
		return false, ErrGroupDeleted
	case status.LifecycleTrashed:
	default:
		return false, ErrNotTrashed
	}
	return m.setLifecycle(ctx, id, status.LifecycleActive, events.GroupRestored, cause)
}

// Discard tombstones a group that was inserted but never announced. It
// publishes nothing.
func (m *Manager) Discard(ctx context.Context, id primitive.ObjectID) error {
	_, err := m.groups.SetLifecycle(ctx, id, status.LifecycleDeleted)
	return err
}

// Delete tombstones the group. Deleting twice is a no-op.
func (m *Manager) Delete(ctx context.Context, id primitive.ObjectID, cause events.Cause) (bool, error) {
	return m.setLifecycle(ctx, id, status.LifecycleDeleted, events.GroupDeleted, cause)
}

func (m *Manager) setLifecycle(ctx context.Context, id primitive.ObjectID, lifecycle string, kind events.Kind, cause events.Cause) (bool, error) {
	old, err := m.groups.SetLifecycle(ctx, id, lifecycle)
	if err != nil {
		return false, err
	}
	if old == lifecycle {
		return false, nil
	}
	m.log.Info("group lifecycle changed",
		zap.String("group_id", id.Hex()),
		zap.String("old", old),
		zap.String("new", lifecycle))

	ev := events.New(kind, cause)
	ev.GroupID = id
	return true, m.bus.Publish(ctx, ev)
}

// live loads the group and rejects deleted ones.
func (m *Manager) live(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	g, err := m.groups.GetByID(ctx, id)
	if err != nil {
		return models.Group{}, err
	}
	if g.Lifecycle == status.LifecycleDeleted {
		return models.Group{}, ErrGroupDeleted
	}
	return g, nil
}

// cleanEmails normalizes, de-duplicates and validates emails.
func cleanEmails(in []string) (valid, invalid []string) {
	for _, e := range normalize.Emails(in) {
		if inputval.IsValidEmail(e) {
			valid = append(valid, e)
		} else {
			invalid = append(invalid, e)
		}
	}
	return valid, invalid
}
