package groupstore_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	"github.com/dalemusser/cohortsync/internal/app/system/paging"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/cohortsync/internal/testutil"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Insert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Insert(ctx, models.Group{
		Title:       "  Spring Cohort ",
		AuthorEmail: "Owner@Example.com",
		Members:     []string{"B@x.com", "a@x.com", "b@x.com"},
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.Title != "Spring Cohort" || created.TitleCI == "" {
		t.Errorf("title not normalized: %q / %q", created.Title, created.TitleCI)
	}
	if created.Status != status.GroupDraft {
		t.Errorf("expected default status draft, got %q", created.Status)
	}
	if created.Lifecycle != status.LifecycleActive {
		t.Errorf("expected lifecycle active, got %q", created.Lifecycle)
	}
	if created.AuthorEmail != "owner@example.com" {
		t.Errorf("AuthorEmail = %q", created.AuthorEmail)
	}
	if len(created.Members) != 2 || created.Members[0] != "b@x.com" || created.Members[1] != "a@x.com" {
		t.Errorf("Members = %v, want [b@x.com a@x.com]", created.Members)
	}

	got, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.CourseData == nil {
		t.Error("expected course_data to be stored as an empty list")
	}
}

func TestStore_Insert_BadStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Insert(ctx, models.Group{Title: "x", Status: "trashed"}); err == nil {
		t.Error("expected error for lifecycle value used as status")
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetByID(ctx, primitive.NewObjectID())
	if !errors.Is(err, groupstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetStatusAndLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	g, err := store.Insert(ctx, models.Group{Title: "G"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	old, err := store.SetStatus(ctx, g.ID, status.GroupPublished)
	if err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if old != status.GroupDraft {
		t.Errorf("old status = %q, want draft", old)
	}
	old, _ = store.SetStatus(ctx, g.ID, status.GroupPublished)
	if old != status.GroupPublished {
		t.Errorf("second SetStatus old = %q, want published", old)
	}

	oldLC, err := store.SetLifecycle(ctx, g.ID, status.LifecycleTrashed)
	if err != nil {
		t.Fatalf("SetLifecycle failed: %v", err)
	}
	if oldLC != status.LifecycleActive {
		t.Errorf("old lifecycle = %q, want active", oldLC)
	}

	got, _ := store.GetByID(ctx, g.ID)
	if got.Status != status.GroupPublished || got.Lifecycle != status.LifecycleTrashed {
		t.Errorf("status/lifecycle = %q/%q", got.Status, got.Lifecycle)
	}

	if _, err := store.SetStatus(ctx, primitive.NewObjectID(), status.GroupDraft); !errors.Is(err, groupstore.ErrNotFound) {
		t.Errorf("SetStatus on missing group: got %v, want ErrNotFound", err)
	}
}

func TestStore_AddMembers_SetSemantics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	g, _ := store.Insert(ctx, models.Group{Title: "G", Members: []string{"a@x.com"}})

	added, err := store.AddMembers(ctx, g.ID, []string{"a@x.com", "new@x.com"})
	if err != nil {
		t.Fatalf("AddMembers failed: %v", err)
	}
	if len(added) != 1 || added[0] != "new@x.com" {
		t.Errorf("added = %v, want [new@x.com]", added)
	}

	added, err = store.AddMembers(ctx, g.ID, []string{"new@x.com"})
	if err != nil {
		t.Fatalf("AddMembers (repeat) failed: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("repeat add returned %v, want nothing", added)
	}

	got, _ := store.GetByID(ctx, g.ID)
	if len(got.Members) != 2 || got.Members[1] != "new@x.com" {
		t.Errorf("Members = %v", got.Members)
	}

	removed, err := store.RemoveMembers(ctx, g.ID, []string{"a@x.com", "ghost@x.com"})
	if err != nil {
		t.Fatalf("RemoveMembers failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "a@x.com" {
		t.Errorf("removed = %v, want [a@x.com]", removed)
	}
}

func TestStore_CourseDataQueries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	course := primitive.NewObjectID()
	order := primitive.NewObjectID()

	g1, _ := store.Insert(ctx, models.Group{Title: "G1", Members: []string{"m@x.com"}})
	g2, _ := store.Insert(ctx, models.Group{Title: "G2", Members: []string{"m@x.com"}})

	if err := store.SetCourseData(ctx, g1.ID, []models.CourseData{{CourseID: course, OrderID: &order, EnrolledStatus: status.EnrollmentActive}}); err != nil {
		t.Fatalf("SetCourseData failed: %v", err)
	}

	ids, err := store.ListIDsByOrder(ctx, order)
	if err != nil {
		t.Fatalf("ListIDsByOrder failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != g1.ID {
		t.Errorf("ListIDsByOrder = %v, want [%v]", ids, g1.ID)
	}

	covered, err := store.CoversMember(ctx, course, "m@x.com", g2.ID)
	if err != nil {
		t.Fatalf("CoversMember failed: %v", err)
	}
	if !covered {
		t.Error("expected g1 to cover m@x.com")
	}

	covered, _ = store.CoversMember(ctx, course, "m@x.com", g1.ID)
	if covered {
		t.Error("excluded group should not count as coverage")
	}

	if _, err := store.SetLifecycle(ctx, g1.ID, status.LifecycleTrashed); err != nil {
		t.Fatalf("SetLifecycle failed: %v", err)
	}
	covered, _ = store.CoversMember(ctx, course, "m@x.com", g2.ID)
	if covered {
		t.Error("trashed group should not count as coverage")
	}
}

func TestStore_ListIDsUpdatedSince(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	before := time.Now().UTC().Add(-time.Second)
	g, _ := store.Insert(ctx, models.Group{Title: "Recent"})

	ids, err := store.ListIDsUpdatedSince(ctx, before, 10)
	if err != nil {
		t.Fatalf("ListIDsUpdatedSince failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != g.ID {
		t.Errorf("ids = %v, want [%v]", ids, g.ID)
	}

	ids, _ = store.ListIDsUpdatedSince(ctx, time.Now().UTC().Add(time.Hour), 10)
	if len(ids) != 0 {
		t.Errorf("future cutoff returned %v", ids)
	}
}

func TestStore_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, _ = store.Insert(ctx, models.Group{Title: "Beta"})
	_, _ = store.Insert(ctx, models.Group{Title: "Alpha", Status: status.GroupPublished})
	_, _ = store.Insert(ctx, models.Group{Title: "Alps (a+b)"})

	all, next, err := store.List(ctx, groupstore.ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].Title != "Alpha" {
		t.Errorf("List order wrong: %v", all)
	}
	if next != "" {
		t.Errorf("single page returned next cursor %q", next)
	}

	pub, _, _ := store.List(ctx, groupstore.ListFilter{Status: status.GroupPublished})
	if len(pub) != 1 || pub[0].Title != "Alpha" {
		t.Errorf("status filter: %v", pub)
	}

	search, _, _ := store.List(ctx, groupstore.ListFilter{Search: "alps ("})
	if len(search) != 1 {
		t.Errorf("search with regex metacharacters returned %d groups", len(search))
	}
}

func TestStore_List_Pages(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := groupstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for _, title := range []string{"Delta", "Alpha", "Charlie", "Bravo", "Echo"} {
		if _, err := store.Insert(ctx, models.Group{Title: title}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var titles []string
	page := paging.Page{Limit: 2}
	for i := 0; i < 5; i++ {
		rows, next, err := store.List(ctx, groupstore.ListFilter{Page: page})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for _, g := range rows {
			titles = append(titles, g.Title)
		}
		if next == "" {
			break
		}
		c, ok := wafflemongo.DecodeCursor(next)
		if !ok {
			t.Fatalf("bad cursor %q", next)
		}
		page.After = &c
	}
	want := "Alpha Bravo Charlie Delta Echo"
	if got := strings.Join(titles, " "); got != want {
		t.Errorf("paged titles = %q, want %q", got, want)
	}
}
