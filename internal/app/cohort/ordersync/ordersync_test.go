package ordersync_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	"github.com/dalemusser/cohortsync/internal/app/cohort/ordersync"
	coursestore "github.com/dalemusser/cohortsync/internal/app/store/courses"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	userstore "github.com/dalemusser/cohortsync/internal/app/store/users"
	"github.com/dalemusser/cohortsync/internal/app/system/indexes"
	"github.com/dalemusser/cohortsync/internal/app/system/keylock"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// silent satisfies memberresolver.Notifier without sending anything.
type silent struct{}

func (silent) AccountSetup(ctx context.Context, member models.User, token string) (bool, error) {
	return false, nil
}

func (silent) MemberJoined(ctx context.Context, g models.Group, member models.User) (bool, error) {
	return false, nil
}

type env struct {
	fx      *testutil.Fixtures
	orders  *orderstore.Store
	groups  *groupstore.Store
	sync    *ordersync.Synchronizer
	mu      sync.Mutex
	created []events.Event
	ctx     context.Context
}

func setup(t *testing.T) *env {
	t.Helper()
	memberresolver.HashCost = bcrypt.MinCost

	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	e := &env{
		fx:     testutil.NewFixtures(t, db),
		orders: orderstore.New(db),
		groups: groupstore.New(db),
		ctx:    ctx,
	}
	bus := events.NewBus(zap.NewNop())
	bus.Subscribe(events.GroupCreated, "capture", func(ctx context.Context, ev events.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.created = append(e.created, ev)
		return nil
	})

	mgr := grouplifecycle.New(e.groups, bus, zap.NewNop())
	resolver := memberresolver.New(userstore.New(db), silent{}, zap.NewNop())
	e.sync = ordersync.New(db, e.orders, mgr, resolver, coursestore.New(db), keylock.New(), zap.NewNop())
	return e
}

func (e *env) countGroups(t *testing.T) int64 {
	t.Helper()
	n, err := e.fx.DB().Collection("groups").CountDocuments(e.ctx, bson.M{"lifecycle": status.LifecycleActive})
	if err != nil {
		t.Fatalf("count groups: %v", err)
	}
	return n
}

func orderEvent(o models.Order) events.Event {
	ev := events.New(events.OrderCreated, events.CauseOrder)
	ev.OrderID = o.ID
	return ev
}

func TestOnOrderCreated_CreatesGroup(t *testing.T) {
	tests := []struct {
		name        string
		orderStatus string
		wantGroup   string
		wantEntry   string
	}{
		{"completed", status.OrderCompleted, status.GroupPublished, status.EnrollmentActive},
		{"pending", status.OrderPending, status.GroupDraft, status.EnrollmentInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t)
			course := e.fx.CreateCourse(e.ctx, "Algebra")
			o := e.fx.CreateGroupOrder(e.ctx, "Buyer@Example.com", tt.orderStatus, course.ID)

			if err := e.sync.OnOrderCreated(e.ctx, orderEvent(o)); err != nil {
				t.Fatalf("OnOrderCreated: %v", err)
			}

			stored, err := e.orders.GetByID(e.ctx, o.ID)
			if err != nil {
				t.Fatalf("GetByID order: %v", err)
			}
			if stored.CreatedGroupID == nil {
				t.Fatal("created_group_id not set")
			}
			if stored.CreateGroup {
				t.Error("create_group marker not cleared")
			}

			g, err := e.groups.GetByID(e.ctx, *stored.CreatedGroupID)
			if err != nil {
				t.Fatalf("GetByID group: %v", err)
			}
			if g.Status != tt.wantGroup {
				t.Errorf("group status = %q, want %q", g.Status, tt.wantGroup)
			}
			if len(g.Members) != 1 || g.Members[0] != "buyer@example.com" {
				t.Errorf("members = %v, want [buyer@example.com]", g.Members)
			}
			if g.AuthorEmail != "buyer@example.com" || g.AuthorID.IsZero() {
				t.Errorf("author = %s / %s", g.AuthorID.Hex(), g.AuthorEmail)
			}
			if len(g.CourseData) != 1 {
				t.Fatalf("course_data = %+v, want 1 entry", g.CourseData)
			}
			cd := g.CourseData[0]
			if cd.CourseID != course.ID || !cd.MatchesOrder(o.ID) || cd.EnrolledStatus != tt.wantEntry {
				t.Errorf("course_data[0] = %+v", cd)
			}
			if want := "Algebra Group #" + g.ID.Hex(); g.Title != want {
				t.Errorf("title = %q, want %q", g.Title, want)
			}

			if len(e.created) != 1 || e.created[0].GroupID != g.ID || e.created[0].Cause != events.CauseOrder {
				t.Errorf("GroupCreated events = %+v", e.created)
			}
		})
	}
}

func TestOnOrderCreated_Idempotent(t *testing.T) {
	e := setup(t)
	course := e.fx.CreateCourse(e.ctx, "Algebra")
	o := e.fx.CreateGroupOrder(e.ctx, "buyer@example.com", status.OrderCompleted, course.ID)

	for i := 0; i < 3; i++ {
		if err := e.sync.OnOrderCreated(e.ctx, orderEvent(o)); err != nil {
			t.Fatalf("OnOrderCreated #%d: %v", i, err)
		}
	}
	if n := e.countGroups(t); n != 1 {
		t.Errorf("groups = %d, want 1", n)
	}
	if len(e.created) != 1 {
		t.Errorf("GroupCreated published %d times, want 1", len(e.created))
	}
}

func TestOnOrderCreated_Concurrent(t *testing.T) {
	e := setup(t)
	course := e.fx.CreateCourse(e.ctx, "Algebra")
	o := e.fx.CreateGroupOrder(e.ctx, "buyer@example.com", status.OrderCompleted, course.ID)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.sync.OnOrderCreated(e.ctx, orderEvent(o))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("OnOrderCreated: %v", err)
		}
	}
	if n := e.countGroups(t); n != 1 {
		t.Errorf("groups = %d, want 1", n)
	}
}

func TestOnOrderCreated_Guards(t *testing.T) {
	e := setup(t)
	course := e.fx.CreateCourse(e.ctx, "Algebra")

	plain := e.fx.CreateOrder(e.ctx, "buyer@example.com", status.OrderCompleted, course.ID)
	if err := e.sync.OnOrderCreated(e.ctx, orderEvent(plain)); err != nil {
		t.Fatalf("plain order: %v", err)
	}

	trashed := e.fx.CreateGroupOrder(e.ctx, "buyer@example.com", status.OrderCompleted, course.ID)
	if _, err := e.orders.SetLifecycle(e.ctx, trashed.ID, status.LifecycleTrashed); err != nil {
		t.Fatalf("SetLifecycle: %v", err)
	}
	if err := e.sync.OnOrderCreated(e.ctx, orderEvent(trashed)); err != nil {
		t.Fatalf("trashed order: %v", err)
	}

	bad := e.fx.CreateGroupOrder(e.ctx, "not-an-email", status.OrderCompleted, course.ID)
	if err := e.sync.OnOrderCreated(e.ctx, orderEvent(bad)); err != nil {
		t.Fatalf("bad email order: %v", err)
	}

	missing := models.Order{ID: course.ID}
	if err := e.sync.OnOrderCreated(e.ctx, orderEvent(missing)); err != nil {
		t.Fatalf("missing order: %v", err)
	}

	if n := e.countGroups(t); n != 0 {
		t.Errorf("groups = %d, want 0", n)
	}
}

func TestOnOrderCreated_UnknownCourseTitle(t *testing.T) {
	e := setup(t)
	course := e.fx.CreateCourse(e.ctx, "")
	o := e.fx.CreateGroupOrder(e.ctx, "buyer@example.com", status.OrderCompleted, course.ID)
	if err := e.sync.OnOrderCreated(e.ctx, orderEvent(o)); err != nil {
		t.Fatalf("OnOrderCreated: %v", err)
	}
	stored, _ := e.orders.GetByID(e.ctx, o.ID)
	g, _ := e.groups.GetByID(e.ctx, *stored.CreatedGroupID)
	if !strings.HasPrefix(g.Title, "Course Group #") {
		t.Errorf("title = %q", g.Title)
	}
}
