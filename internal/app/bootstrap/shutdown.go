// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the background workers, flushes traces, and disconnects
// from MongoDB. Workers stop first so nothing writes after the disconnect.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	rtMu.Lock()
	r := rt
	rt = nil
	rtMu.Unlock()

	if r != nil {
		if r.delivery != nil {
			r.delivery.Stop()
		}
		r.scheduler.Stop(ctx)
		if r.traceShutdown != nil {
			if err := r.traceShutdown(ctx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
