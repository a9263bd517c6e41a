package workers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/app/system/workers"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []mailer.Email
	failTo map[string]bool
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTo[msg.To] {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestQueueDelivery_DeliverDue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	queue := notifyqueue.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	good, _ := queue.Enqueue(ctx, models.Notification{Kind: "member-joined", To: "ok@x.com", MailSubject: "Welcome", TextBody: "hi"})
	bad, _ := queue.Enqueue(ctx, models.Notification{Kind: "member-joined", To: "bounce@x.com", MailSubject: "Welcome", MaxAttempts: 1})

	sender := &recordingSender{failTo: map[string]bool{"bounce@x.com": true}}
	w := workers.NewQueueDelivery(queue, sender, zap.NewNop(), workers.QueueDeliveryConfig{BatchSize: 10})

	if n := w.DeliverDue(ctx); n != 1 {
		t.Errorf("DeliverDue = %d, want 1", n)
	}
	if len(sender.sent) != 1 || sender.sent[0].Subject != "Welcome" || sender.sent[0].TextBody != "hi" {
		t.Errorf("sent = %+v", sender.sent)
	}

	got, _ := queue.Get(ctx, good.ID)
	if got.Status != notifyqueue.StatusDone {
		t.Errorf("good status = %q, want done", got.Status)
	}
	got, _ = queue.Get(ctx, bad.ID)
	if got.Status != notifyqueue.StatusFailed || got.LastError == "" {
		t.Errorf("bad status = %q err=%q, want failed", got.Status, got.LastError)
	}

	// Nothing left to send.
	if n := w.DeliverDue(ctx); n != 0 {
		t.Errorf("second DeliverDue = %d, want 0", n)
	}
}

func TestQueueDelivery_RespectsBatchSize(t *testing.T) {
	db := testutil.SetupTestDB(t)
	queue := notifyqueue.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 5; i++ {
		if _, err := queue.Enqueue(ctx, models.Notification{Kind: "k", To: "m@x.com"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	w := workers.NewQueueDelivery(queue, &recordingSender{}, zap.NewNop(), workers.QueueDeliveryConfig{BatchSize: 2})
	if n := w.DeliverDue(ctx); n != 2 {
		t.Errorf("DeliverDue = %d, want 2", n)
	}
	counts, _ := queue.CountByStatus(ctx)
	if counts[notifyqueue.StatusPending] != 3 {
		t.Errorf("pending = %d, want 3", counts[notifyqueue.StatusPending])
	}
}

func TestQueueDelivery_StartStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	queue := notifyqueue.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	n, _ := queue.Enqueue(ctx, models.Notification{Kind: "k", To: "m@x.com"})
	w := workers.NewQueueDelivery(queue, &recordingSender{}, zap.NewNop(), workers.QueueDeliveryConfig{Interval: 20 * time.Millisecond})
	w.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := queue.Get(ctx, n.ID)
		if got.Status == notifyqueue.StatusDone {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	w.Stop()

	got, _ := queue.Get(ctx, n.ID)
	if got.Status != notifyqueue.StatusDone {
		t.Errorf("status = %q, want done", got.Status)
	}
}
