package propagation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/system/dberr"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconcile re-pushes the group's current entries to its roster. Members
// are resolved when the group drives any active enrollment.
func (e *Engine) Reconcile(ctx context.Context, groupID primitive.ObjectID) error {
	return e.withGroup(ctx, groupID, func(g models.Group) error {
		ts, err := e.targets(ctx, g)
		if err != nil {
			return err
		}
		return e.push(ctx, g, g.Members, anyActive(ts))
	})
}

// ReconcileSince reconciles every group touched since the given time and
// returns how many were processed. Groups run in parallel up to the
// configured bound. Persistence unavailability stops the sweep.
func (e *Engine) ReconcileSince(ctx context.Context, since time.Time) (n int, err error) {
	ctx, span := e.span(ctx, "reconcile", events.Event{Cause: events.CauseSystem})
	defer func() { endSpan(span, err) }()

	ids, err := e.groups.ListIDsUpdatedSince(ctx, since, 0)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("reconcile.groups", len(ids)))

	var done atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Parallelism)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			err := e.Reconcile(ctx, id)
			if err == nil {
				done.Add(1)
				return nil
			}
			if dberr.IsUnavailable(err) || errors.Is(err, context.Canceled) {
				return err
			}
			e.log.Warn("reconcile group failed", zap.String("group_id", id.Hex()), zap.Error(err))
			return nil
		})
	}
	err = eg.Wait()
	return int(done.Load()), err
}
