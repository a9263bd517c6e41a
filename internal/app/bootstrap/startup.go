// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/cohort/grouplifecycle"
	"github.com/dalemusser/cohortsync/internal/app/cohort/memberresolver"
	"github.com/dalemusser/cohortsync/internal/app/cohort/notify"
	"github.com/dalemusser/cohortsync/internal/app/cohort/ordersync"
	"github.com/dalemusser/cohortsync/internal/app/cohort/propagation"
	"github.com/dalemusser/cohortsync/internal/app/store/audit"
	coursestore "github.com/dalemusser/cohortsync/internal/app/store/courses"
	enrollmentstore "github.com/dalemusser/cohortsync/internal/app/store/enrollments"
	groupstore "github.com/dalemusser/cohortsync/internal/app/store/groups"
	markerstore "github.com/dalemusser/cohortsync/internal/app/store/markers"
	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	orderstore "github.com/dalemusser/cohortsync/internal/app/store/orders"
	userstore "github.com/dalemusser/cohortsync/internal/app/store/users"
	"github.com/dalemusser/cohortsync/internal/app/system/auditlog"
	"github.com/dalemusser/cohortsync/internal/app/system/keylock"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/app/system/tasks"
	"github.com/dalemusser/cohortsync/internal/app/system/tracing"
	"github.com/dalemusser/cohortsync/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// runtime is the wired service: stores, the event bus with its
// subscribers, and the background workers. Startup builds it and
// BuildHandler and Shutdown read it.
type runtime struct {
	bus       *events.Bus
	orders    *orderstore.Store
	groups    *groupstore.Store
	courses   *coursestore.Store
	enrolled  *enrollmentstore.Store
	queue     *notifyqueue.Store
	audit     *audit.Store
	auditLog  *auditlog.Logger
	lifecycle *grouplifecycle.Manager
	resolver  *memberresolver.Resolver
	engine    *propagation.Engine
	sender    mailer.Sender

	delivery      *workers.QueueDelivery
	scheduler     *tasks.Scheduler
	traceShutdown func(context.Context) error
}

var (
	rtMu sync.Mutex
	rt   *runtime
)

func current() *runtime {
	rtMu.Lock()
	defer rtMu.Unlock()
	return rt
}

// newRuntime constructs every component and registers the bus subscribers.
// Nothing is started.
//
// Subscriber order matters: the order synchronizer runs first so a new
// order's group exists before propagation sees the order's status, and the
// notification dispatcher runs last so it observes committed enrollments.
func newRuntime(appCfg AppConfig, db *mongo.Database, sender mailer.Sender, logger *zap.Logger) *runtime {
	r := &runtime{
		bus:      events.NewBus(logger),
		orders:   orderstore.New(db),
		groups:   groupstore.New(db),
		courses:  coursestore.New(db),
		enrolled: enrollmentstore.New(db),
		queue:    notifyqueue.New(db),
		audit:    audit.New(db),
		sender:   sender,
	}
	users := userstore.New(db)

	// Only hand the dispatcher a queue in queue mode; a nil interface
	// routes it to inline sending.
	var queue notify.Queue
	if appCfg.NotifyMode == notify.ModeQueue {
		queue = r.queue
	}
	dispatcher := notify.New(markerstore.New(db), queue, sender, users, r.courses, notify.Config{
		Mode:        appCfg.NotifyMode,
		SiteName:    appCfg.SiteName,
		BaseURL:     appCfg.BaseURL,
		MaxAttempts: appCfg.QueueMaxAttempts,
	}, logger.Named("notify"))

	locks := keylock.New()
	r.resolver = memberresolver.New(users, dispatcher, logger.Named("resolver"))
	r.lifecycle = grouplifecycle.New(r.groups, r.bus, logger.Named("lifecycle"))
	r.engine = propagation.New(propagation.Deps{
		Orders:      r.orders,
		Groups:      r.groups,
		Enrollments: r.enrolled,
		Lifecycle:   r.lifecycle,
		Resolver:    r.resolver,
		Notifier:    dispatcher,
		Locks:       locks,
	}, propagation.Config{
		DeactivateOnStatusChange: appCfg.DeactivateOnStatusChange,
		Parallelism:              appCfg.ReconcileParallelism,
	}, logger.Named("propagation"))

	ordersync.New(db, r.orders, r.lifecycle, r.resolver, r.courses, locks, logger.Named("ordersync")).Register(r.bus)
	r.engine.Register(r.bus)
	dispatcher.Register(r.bus, r.groups)

	r.auditLog = auditlog.New(r.audit, logger, auditlog.Config{
		Sync:  appCfg.AuditLogSync,
		Hook:  appCfg.AuditLogHook,
		Admin: appCfg.AuditLogAdmin,
	})
	r.bus.Observe(r.auditLog.ObserveEvent)

	if appCfg.NotifyMode == notify.ModeQueue {
		r.delivery = workers.NewQueueDelivery(r.queue, sender, logger.Named("delivery"), workers.QueueDeliveryConfig{
			Interval:  appCfg.QueuePollInterval,
			BatchSize: appCfg.QueueBatchSize,
		})
	}

	r.scheduler = tasks.NewScheduler(logger.Named("tasks"))
	return r
}

// scheduleJobs registers the periodic jobs on r's scheduler.
func (r *runtime) scheduleJobs(appCfg AppConfig, logger *zap.Logger) error {
	var jobs []tasks.Job
	if appCfg.ReconcileSchedule != "" {
		jobs = append(jobs, tasks.ReconcileJob(r.engine, logger, appCfg.ReconcileSchedule, appCfg.ReconcileWindow, appCfg.ReconcileTimeout))
	}
	if appCfg.NotifyMode == notify.ModeQueue && appCfg.QueueRetention > 0 {
		jobs = append(jobs, tasks.QueuePruneJob(r.queue, logger, appCfg.QueueRetention))
	}
	if appCfg.AuditRetention > 0 {
		jobs = append(jobs, tasks.AuditPruneJob(r.audit, logger, appCfg.AuditRetention))
	}
	for _, j := range jobs {
		if err := r.scheduler.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It wires
// the sync engine and starts its background workers.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	traceShutdown, err := tracing.Setup(ctx, "cohortsync", appCfg.OTelEndpoint)
	if err != nil {
		logger.Error("tracing setup failed", zap.Error(err))
		return err
	}

	var sender mailer.Sender
	if appCfg.NotifyMode == notify.ModeOff {
		sender = mailer.NewLogSender(logger.Named("mail"))
	} else {
		sender, err = mailer.New(mailer.Config{
			Transport:      appCfg.MailTransport,
			From:           appCfg.MailFrom,
			FromName:       appCfg.MailFromName,
			SMTPHost:       appCfg.MailSMTPHost,
			SMTPPort:       appCfg.MailSMTPPort,
			SMTPUser:       appCfg.MailSMTPUser,
			SMTPPass:       appCfg.MailSMTPPass,
			ResendAPIKey:   appCfg.ResendAPIKey,
			SendGridAPIKey: appCfg.SendGridAPIKey,
		}, logger.Named("mail"))
		if err != nil {
			_ = traceShutdown(ctx)
			return fmt.Errorf("mailer: %w", err)
		}
	}

	r := newRuntime(appCfg, deps.MongoDatabase, sender, logger)
	r.traceShutdown = traceShutdown
	if err := r.scheduleJobs(appCfg, logger); err != nil {
		_ = traceShutdown(ctx)
		return err
	}

	if r.delivery != nil {
		r.delivery.Start()
	}
	r.scheduler.Start()

	rtMu.Lock()
	rt = r
	rtMu.Unlock()

	logger.Info("cohortsync started",
		zap.String("notify_mode", appCfg.NotifyMode),
		zap.Bool("deactivate_on_status_change", appCfg.DeactivateOnStatusChange),
		zap.Int("reconcile_parallelism", appCfg.ReconcileParallelism))
	return nil
}
