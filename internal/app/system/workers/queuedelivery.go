// internal/app/system/workers/queuedelivery.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.uber.org/zap"
)

// QueueDeliveryConfig tunes the delivery worker. Zero values take defaults.
type QueueDeliveryConfig struct {
	Interval    time.Duration // poll interval (default 10s)
	Lease       time.Duration // how long a claimed item stays reserved (default 2m)
	BatchSize   int           // max items sent per tick (default 50)
	RetryBase   time.Duration // first retry delay (default 1m)
	RetryMax    time.Duration // cap on retry delay (default 1h)
	SendTimeout time.Duration // per-message send timeout (default 30s)
}

func (c *QueueDeliveryConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Hour
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// QueueDelivery is a background worker that sends queued notifications.
type QueueDelivery struct {
	queue  *notifyqueue.Store
	sender mailer.Sender
	log    *zap.Logger
	cfg    QueueDeliveryConfig
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueueDelivery creates a new delivery worker.
func NewQueueDelivery(queue *notifyqueue.Store, sender mailer.Sender, logger *zap.Logger, cfg QueueDeliveryConfig) *QueueDelivery {
	cfg.defaults()
	return &QueueDelivery{
		queue:  queue,
		sender: sender,
		log:    logger,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background delivery loop.
func (w *QueueDelivery) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("notification delivery worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize))
}

// Stop signals the worker to stop and waits for it to finish.
func (w *QueueDelivery) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("notification delivery worker stopped")
}

func (w *QueueDelivery) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.DeliverDue(context.Background())
		}
	}
}

// DeliverDue sends up to BatchSize due items and returns how many were
// delivered.
func (w *QueueDelivery) DeliverDue(ctx context.Context) int {
	sent := 0
	for i := 0; i < w.cfg.BatchSize; i++ {
		select {
		case <-w.stopCh:
			return sent
		default:
		}

		n, err := w.queue.ClaimDue(ctx, time.Now().UTC(), w.cfg.Lease)
		if err != nil {
			w.log.Error("failed to claim queued notification", zap.Error(err))
			return sent
		}
		if n == nil {
			break
		}
		if w.deliver(ctx, *n) {
			sent++
		}
	}
	if sent > 0 {
		w.log.Info("delivered queued notifications", zap.Int("count", sent))
	}
	return sent
}

func (w *QueueDelivery) deliver(ctx context.Context, n models.Notification) bool {
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	err := w.sender.Send(sendCtx, mailer.Email{
		To:       n.To,
		Subject:  n.MailSubject,
		TextBody: n.TextBody,
		HTMLBody: n.HTMLBody,
	})
	if err != nil {
		w.log.Warn("notification send failed",
			zap.String("id", n.ID),
			zap.String("kind", n.Kind),
			zap.Int("attempt", n.Attempts),
			zap.Error(err))
		if merr := w.queue.MarkFailedAttempt(ctx, n, err, w.cfg.RetryBase, w.cfg.RetryMax); merr != nil {
			w.log.Error("failed to record send failure", zap.String("id", n.ID), zap.Error(merr))
		}
		return false
	}
	if err := w.queue.MarkDone(ctx, n.ID); err != nil {
		// The lease will expire and the item will be sent again.
		w.log.Error("failed to mark notification delivered", zap.String("id", n.ID), zap.Error(err))
	}
	return true
}
