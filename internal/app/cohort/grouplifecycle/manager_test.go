package grouplifecycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.uber.org/zap"
)

// recorder collects published events.
type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.got))
	for _, ev := range r.got {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func setup(t *testing.T) (*grouplifecycle.Manager, *groupstore.Store, *recorder, context.Context) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)
	groups := groupstore.New(db)
	rec := &recorder{}
	return grouplifecycle.New(groups, rec, zap.NewNop()), groups, rec, ctx
}

func TestManager_Create(t *testing.T) {
	m, groups, rec, ctx := setup(t)

	g, invalid, err := m.Create(ctx, grouplifecycle.CreateInput{
		Title:       "  Spring   Cohort ",
		Description: `<p>Hello</p><script>alert(1)</script>`,
		Members:     []string{"A@Example.com", "a@example.com", "not-an-email", "b@example.com"},
	}, events.CauseAuthor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(invalid) != 1 || invalid[0] != "not-an-email" {
		t.Errorf("invalid = %v, want [not-an-email]", invalid)
	}

	stored, err := groups.GetByID(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != status.GroupDraft {
		t.Errorf("Status = %q, want draft", stored.Status)
	}
	if strings.Contains(stored.Description, "<script>") {
		t.Errorf("Description not sanitized: %q", stored.Description)
	}
	if len(stored.Members) != 2 {
		t.Errorf("Members = %v, want 2 entries", stored.Members)
	}

	if k := rec.kinds(); len(k) != 1 || k[0] != events.GroupCreated {
		t.Fatalf("events = %v, want [group.created]", k)
	}
	if ev := rec.last(); ev.GroupID != g.ID || len(ev.Added) != 2 {
		t.Errorf("GroupCreated event = %+v", ev)
	}
}

func TestManager_Create_BadStatus(t *testing.T) {
	m, _, rec, ctx := setup(t)
	_, _, err := m.Create(ctx, grouplifecycle.CreateInput{Title: "x", Status: "archived"}, events.CauseAuthor)
	if !errors.Is(err, grouplifecycle.ErrBadStatus) {
		t.Errorf("err = %v, want ErrBadStatus", err)
	}
	if len(rec.kinds()) != 0 {
		t.Error("no event expected on failure")
	}
}

func TestManager_SetStatus_PublishesOnlyOnChange(t *testing.T) {
	m, _, rec, ctx := setup(t)
	g, _, err := m.Insert(ctx, grouplifecycle.CreateInput{Title: "G"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tests := []struct {
		to      string
		changed bool
	}{
		{status.GroupPublished, true},
		{status.GroupPublished, false},
		{status.GroupDraft, true},
	}
	for _, tt := range tests {
		changed, err := m.SetStatus(ctx, g.ID, tt.to, events.CauseAuthor)
		if err != nil {
			t.Fatalf("SetStatus(%s): %v", tt.to, err)
		}
		if changed != tt.changed {
			t.Errorf("SetStatus(%s) changed = %v, want %v", tt.to, changed, tt.changed)
		}
	}

	if n := len(rec.kinds()); n != 2 {
		t.Fatalf("published %d events, want 2", n)
	}
	ev := rec.last()
	if ev.Kind != events.GroupStatusChanged || ev.OldStatus != status.GroupPublished || ev.NewStatus != status.GroupDraft {
		t.Errorf("last event = %+v", ev)
	}
	if ev.Cause != events.CauseAuthor {
		t.Errorf("Cause = %q, want author", ev.Cause)
	}
}

func TestManager_Roster(t *testing.T) {
	m, groups, rec, ctx := setup(t)
	g, _, err := m.Insert(ctx, grouplifecycle.CreateInput{Title: "G", Members: []string{"a@example.com"}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	added, invalid, err := m.AddMembers(ctx, g.ID, []string{"A@example.com", "c@example.com", "bad"}, events.CauseAuthor)
	if err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if len(added) != 1 || added[0] != "c@example.com" {
		t.Errorf("added = %v, want [c@example.com]", added)
	}
	if len(invalid) != 1 {
		t.Errorf("invalid = %v, want 1 entry", invalid)
	}
	if ev := rec.last(); ev.Kind != events.GroupRosterUpdated || len(ev.Added) != 1 {
		t.Errorf("event = %+v", ev)
	}

	// Unchanged roster: no event.
	before := len(rec.kinds())
	if _, _, err := m.AddMembers(ctx, g.ID, []string{"a@example.com"}, events.CauseAuthor); err != nil {
		t.Fatalf("AddMembers again: %v", err)
	}
	if len(rec.kinds()) != before {
		t.Error("unchanged roster published an event")
	}

	removed, err := m.RemoveMembers(ctx, g.ID, []string{"a@example.com", "nobody@example.com"}, events.CauseAuthor)
	if err != nil {
		t.Fatalf("RemoveMembers: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("removed = %v, want 1 entry", removed)
	}
	if ev := rec.last(); ev.Kind != events.GroupRosterUpdated || len(ev.Removed) != 1 {
		t.Errorf("event = %+v", ev)
	}

	stored, _ := groups.GetByID(ctx, g.ID)
	if len(stored.Members) != 1 || stored.Members[0] != "c@example.com" {
		t.Errorf("Members = %v, want [c@example.com]", stored.Members)
	}
}

func TestManager_TrashRestoreDelete(t *testing.T) {
	m, groups, rec, ctx := setup(t)
	g, _, err := m.Insert(ctx, grouplifecycle.CreateInput{Title: "G"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := m.Restore(ctx, g.ID, events.CauseAuthor); !errors.Is(err, grouplifecycle.ErrNotTrashed) {
		t.Errorf("Restore active: err = %v, want ErrNotTrashed", err)
	}
	if changed, err := m.Trash(ctx, g.ID, events.CauseAuthor); err != nil || !changed {
		t.Fatalf("Trash: changed=%v err=%v", changed, err)
	}
	if changed, _ := m.Trash(ctx, g.ID, events.CauseAuthor); changed {
		t.Error("second Trash reported a change")
	}
	if changed, err := m.Restore(ctx, g.ID, events.CauseAuthor); err != nil || !changed {
		t.Fatalf("Restore: changed=%v err=%v", changed, err)
	}
	if changed, err := m.Delete(ctx, g.ID, events.CauseAuthor); err != nil || !changed {
		t.Fatalf("Delete: changed=%v err=%v", changed, err)
	}
	if changed, err := m.Delete(ctx, g.ID, events.CauseAuthor); err != nil || changed {
		t.Errorf("second Delete: changed=%v err=%v, want no-op", changed, err)
	}

	want := []events.Kind{events.GroupTrashed, events.GroupRestored, events.GroupDeleted}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	stored, _ := groups.GetByID(ctx, g.ID)
	if stored.Lifecycle != status.LifecycleDeleted {
		t.Errorf("Lifecycle = %q, want deleted", stored.Lifecycle)
	}

	// A deleted group rejects further changes.
	if _, err := m.SetStatus(ctx, g.ID, status.GroupPublished, events.CauseAuthor); !errors.Is(err, grouplifecycle.ErrGroupDeleted) {
		t.Errorf("SetStatus on deleted: err = %v", err)
	}
	if _, _, err := m.AddMembers(ctx, g.ID, []string{"x@example.com"}, events.CauseAuthor); !errors.Is(err, grouplifecycle.ErrGroupDeleted) {
		t.Errorf("AddMembers on deleted: err = %v", err)
	}
	if _, err := m.Restore(ctx, g.ID, events.CauseAuthor); !errors.Is(err, grouplifecycle.ErrGroupDeleted) {
		t.Errorf("Restore on deleted: err = %v", err)
	}
}

func TestManager_Update(t *testing.T) {
	m, groups, rec, ctx := setup(t)
	g, _, err := m.Insert(ctx, grouplifecycle.CreateInput{Title: "Old", Description: "d"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	desc := "<b>new</b><script>x()</script>"
	if err := m.Update(ctx, g.ID, grouplifecycle.UpdateInput{Description: &desc}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := m.Retitle(ctx, g.ID, "New"); err != nil {
		t.Fatalf("Retitle: %v", err)
	}
	stored, _ := groups.GetByID(ctx, g.ID)
	if stored.Title != "New" || stored.Description != "<b>new</b>" {
		t.Errorf("stored = %q / %q", stored.Title, stored.Description)
	}

	// A title-only edit keeps the description.
	if err := m.Update(ctx, g.ID, grouplifecycle.UpdateInput{Title: "Newer"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, _ = groups.GetByID(ctx, g.ID)
	if stored.Title != "Newer" || stored.Description != "<b>new</b>" {
		t.Errorf("after title-only update = %q / %q", stored.Title, stored.Description)
	}

	empty := ""
	if err := m.Update(ctx, g.ID, grouplifecycle.UpdateInput{Description: &empty}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stored, _ = groups.GetByID(ctx, g.ID)
	if stored.Title != "Newer" || stored.Description != "" {
		t.Errorf("after clearing = %q / %q", stored.Title, stored.Description)
	}
	if len(rec.kinds()) != 0 {
		t.Error("Update published events")
	}
}
