package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/notify"
	coursestore "github.com/dalemusser/cohortsync/internal/app/store/courses"
	enrollmentstore "github.com/dalemusser/cohortsync/internal/app/store/enrollments"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	markerstore "github.com/dalemusser/cohortsync/internal/app/store/markers"
	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	userstore "github.com/dalemusser/cohortsync/internal/app/store/users"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type env struct {
	db      *mongo.Database
	fx      *testutil.Fixtures
	mail    *testutil.MailRecorder
	markers *markerstore.Store
	queue   *notifyqueue.Store
	d       *notify.Dispatcher
	ctx     context.Context
}

func setup(t *testing.T, mode string) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	t.Cleanup(cancel)

	e := &env{
		db:      db,
		fx:      testutil.NewFixtures(t, db),
		mail:    testutil.NewMailRecorder(),
		markers: markerstore.New(db),
		queue:   notifyqueue.New(db),
		ctx:     ctx,
	}
	e.d = notify.New(e.markers, e.queue, e.mail, userstore.New(db), coursestore.New(db),
		notify.Config{Mode: mode, SiteName: "Academy", BaseURL: "https://academy.test/"}, zap.NewNop())
	return e
}

func TestMaybeNotify_AtMostOnce(t *testing.T) {
	e := setup(t, notify.ModeSync)

	n := notify.Notice{
		Kind:    notify.KindGroupPublished,
		Subject: "g1",
		Compose: func(context.Context) (mailer.Email, error) {
			return mailer.Email{To: "a@x.com", Subject: "hi", TextBody: "hi"}, nil
		},
	}
	sent, err := e.d.MaybeNotify(e.ctx, n)
	if err != nil || !sent {
		t.Fatalf("first MaybeNotify = %v, %v", sent, err)
	}
	sent, err = e.d.MaybeNotify(e.ctx, n)
	if err != nil || sent {
		t.Fatalf("second MaybeNotify = %v, %v; want false", sent, err)
	}
	if got := len(e.mail.Sent()); got != 1 {
		t.Errorf("sent %d emails, want 1", got)
	}
}

func TestMaybeNotify_MarkerWrittenBeforeSendFailure(t *testing.T) {
	e := setup(t, notify.ModeSync)
	e.mail.Err = errors.New("smtp down")

	n := notify.Notice{
		Kind:    notify.KindAccountSetup,
		Subject: "u1",
		Compose: func(context.Context) (mailer.Email, error) {
			return mailer.Email{To: "a@x.com"}, nil
		},
	}
	sent, err := e.d.MaybeNotify(e.ctx, n)
	if err == nil || !sent {
		t.Fatalf("MaybeNotify = %v, %v; want true with error", sent, err)
	}
	set, _ := e.markers.IsSet(e.ctx, string(notify.KindAccountSetup), "u1")
	if !set {
		t.Error("marker not written")
	}
}

func TestGroupPublished_ConcurrentSendsOnce(t *testing.T) {
	e := setup(t, notify.ModeSync)
	author := e.fx.CreateUser(e.ctx, "author@x.com", userstore.RoleLearner)
	course := e.fx.CreateCourse(e.ctx, "Go 101")
	g := e.fx.CreateGroup(e.ctx, "Cohort", status.GroupPublished, author, []string{author.Email},
		[]models.CourseData{{CourseID: course.ID, EnrolledStatus: status.EnrollmentActive}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.d.GroupPublished(e.ctx, g)
			if err != nil {
				t.Errorf("GroupPublished: %v", err)
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d calls won, want 1", wins)
	}
	got := e.mail.SentTo("author@x.com")
	if len(got) != 1 {
		t.Fatalf("author got %d emails, want 1", len(got))
	}
	if want := "Go 101"; !contains(got[0].TextBody, want) {
		t.Errorf("body missing course title %q", want)
	}
}

func TestMemberJoined_SuppressesAuthor(t *testing.T) {
	e := setup(t, notify.ModeSync)
	author := e.fx.CreateUser(e.ctx, "author@x.com", userstore.RoleLearner)
	member := e.fx.CreateUser(e.ctx, "member@x.com", userstore.RoleLearner)
	g := e.fx.CreateGroup(e.ctx, "Cohort", status.GroupDraft, author, []string{author.Email, member.Email}, nil)

	if ok, _ := e.d.MemberJoined(e.ctx, g, author); ok {
		t.Error("author was notified about joining their own group")
	}
	if set, _ := e.markers.IsSet(e.ctx, string(notify.KindMemberJoined), g.ID.Hex()+":"+author.ID.Hex()); set {
		t.Error("suppressed notice should not claim a marker")
	}
	if ok, err := e.d.MemberJoined(e.ctx, g, member); !ok || err != nil {
		t.Errorf("member notice = %v, %v", ok, err)
	}
	if ok, _ := e.d.MemberJoined(e.ctx, g, member); ok {
		t.Error("member notified twice")
	}
	if len(e.mail.SentTo(member.Email)) != 1 || len(e.mail.SentTo(author.Email)) != 0 {
		t.Errorf("unexpected mail: %+v", e.mail.Sent())
	}
}

func TestMemberEnrolled_OnlyOnActivation(t *testing.T) {
	e := setup(t, notify.ModeSync)
	author := e.fx.CreateUser(e.ctx, "author@x.com", userstore.RoleLearner)
	member := e.fx.CreateUser(e.ctx, "member@x.com", userstore.RoleLearner)
	g := e.fx.CreateGroup(e.ctx, "Cohort", status.GroupPublished, author, nil, nil)

	active := models.Enrollment{ID: primitive.NewObjectID(), UserID: member.ID, CourseID: primitive.NewObjectID(), Status: status.EnrollmentActive}
	tests := []struct {
		name string
		res  enrollmentstore.UpsertResult
		who  models.User
		want bool
	}{
		{"already active", enrollmentstore.UpsertResult{Enrollment: active, PreviousStatus: status.EnrollmentActive}, member, false},
		{"inactive write", enrollmentstore.UpsertResult{Enrollment: models.Enrollment{ID: active.ID, Status: status.EnrollmentInactive}, Created: true}, member, false},
		{"direct record", enrollmentstore.UpsertResult{Enrollment: active, Direct: true}, member, false},
		{"author", enrollmentstore.UpsertResult{Enrollment: active, Created: true}, author, false},
		{"flip to active", enrollmentstore.UpsertResult{Enrollment: active, PreviousStatus: status.EnrollmentInactive}, member, true},
		{"re-activation after flip", enrollmentstore.UpsertResult{Enrollment: active, PreviousStatus: status.EnrollmentInactive}, member, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.d.MemberEnrolled(e.ctx, g, tt.who, tt.res)
			if err != nil {
				t.Fatalf("MemberEnrolled: %v", err)
			}
			if got != tt.want {
				t.Errorf("MemberEnrolled = %v, want %v", got, tt.want)
			}
		})
	}
	if n := len(e.mail.SentTo(member.Email)); n != 1 {
		t.Errorf("member got %d emails, want 1", n)
	}
}

func TestQueueMode_Enqueues(t *testing.T) {
	e := setup(t, notify.ModeQueue)
	member := e.fx.CreateUser(e.ctx, "new@x.com", "")

	ok, err := e.d.AccountSetup(e.ctx, member, "tok-123")
	if err != nil || !ok {
		t.Fatalf("AccountSetup = %v, %v", ok, err)
	}
	if len(e.mail.Sent()) != 0 {
		t.Error("queue mode should not send inline")
	}
	counts, _ := e.queue.CountByStatus(e.ctx)
	if counts[notifyqueue.StatusPending] != 1 {
		t.Fatalf("pending = %d, want 1", counts[notifyqueue.StatusPending])
	}
	n, err := e.queue.ClaimDue(e.ctx, nowPlus(), 0)
	if err != nil || n == nil {
		t.Fatalf("ClaimDue = %v, %v", n, err)
	}
	if n.To != "new@x.com" || !contains(n.TextBody, "token=tok-123") || n.Kind != string(notify.KindAccountSetup) {
		t.Errorf("unexpected queued item: %+v", n)
	}
}

func TestRegister_PublishedGroupNotifiesAuthor(t *testing.T) {
	e := setup(t, notify.ModeSync)
	author := e.fx.CreateUser(e.ctx, "author@x.com", userstore.RoleLearner)
	draft := e.fx.CreateGroup(e.ctx, "Draft", status.GroupDraft, author, nil, nil)
	pub := e.fx.CreateGroup(e.ctx, "Live", status.GroupPublished, author, nil, nil)

	bus := events.NewBus(zap.NewNop())
	e.d.Register(bus, groupstore.New(e.db))

	ev := events.New(events.GroupCreated, events.CauseAuthor)
	ev.GroupID = draft.ID
	_ = bus.Publish(e.ctx, ev)
	if len(e.mail.Sent()) != 0 {
		t.Fatal("draft group should not notify")
	}

	ev = events.New(events.GroupStatusChanged, events.CauseOrder)
	ev.GroupID = pub.ID
	ev.OldStatus, ev.NewStatus = status.GroupDraft, status.GroupPublished
	_ = bus.Publish(e.ctx, ev)
	_ = bus.Publish(e.ctx, ev)
	if n := len(e.mail.SentTo(author.Email)); n != 1 {
		t.Errorf("author got %d emails, want 1", n)
	}
}

func TestRegister_TrashedGroupNotifiesOnRestore(t *testing.T) {
	e := setup(t, notify.ModeSync)
	groups := groupstore.New(e.db)
	author := e.fx.CreateUser(e.ctx, "author@x.com", userstore.RoleLearner)
	g := e.fx.CreateGroup(e.ctx, "Live", status.GroupPublished, author, nil, nil)
	if _, err := groups.SetLifecycle(e.ctx, g.ID, status.LifecycleTrashed); err != nil {
		t.Fatalf("SetLifecycle: %v", err)
	}

	bus := events.NewBus(zap.NewNop())
	e.d.Register(bus, groups)

	ev := events.New(events.GroupStatusChanged, events.CauseAuthor)
	ev.GroupID = g.ID
	ev.OldStatus, ev.NewStatus = status.GroupDraft, status.GroupPublished
	_ = bus.Publish(e.ctx, ev)
	if len(e.mail.Sent()) != 0 {
		t.Fatal("trashed group should not notify")
	}

	if _, err := groups.SetLifecycle(e.ctx, g.ID, status.LifecycleActive); err != nil {
		t.Fatalf("SetLifecycle: %v", err)
	}
	ev = events.New(events.GroupRestored, events.CauseAuthor)
	ev.GroupID = g.ID
	_ = bus.Publish(e.ctx, ev)
	_ = bus.Publish(e.ctx, ev)
	if n := len(e.mail.SentTo(author.Email)); n != 1 {
		t.Errorf("author got %d emails after restore, want 1", n)
	}
}
