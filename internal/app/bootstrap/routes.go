// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/cohort/notify"
	groupsfeature "github.com/dalemusser/cohortsync/internal/app/features/groups"
	healthfeature "github.com/dalemusser/cohortsync/internal/app/features/health"
	hooksfeature "github.com/dalemusser/cohortsync/internal/app/features/hooks"
	"github.com/dalemusser/cohortsync/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed. It mounts:
//   - /health: readiness (database and queue); /health/live: liveness
//   - /hooks: commerce platform callbacks (hooks_token)
//   - /groups: the group admin API (admin_token)
//
// /hooks and /groups share a per-IP rate limit.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	r := current()
	if r == nil {
		return nil, errors.New("bootstrap: BuildHandler called before Startup")
	}
	return buildRouter(r, appCfg, deps.MongoClient, logger), nil
}

func buildRouter(rt *runtime, appCfg AppConfig, client *mongo.Client, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators.
	// Queue counts are reported only when the queue is in use.
	var queueStats healthfeature.QueueStats
	if appCfg.NotifyMode == notify.ModeQueue {
		queueStats = rt.queue
	}
	healthHandler := healthfeature.NewHandler(client, queueStats, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	r.Group(func(r chi.Router) {
		if appCfg.RateLimitPerMinute > 0 {
			r.Use(ratelimit.Middleware(ratelimit.New(appCfg.RateLimitPerMinute, time.Minute), nil))
		}

		// Commerce callbacks: order snapshots, status and lifecycle, catalog.
		hooksHandler := hooksfeature.NewHandler(rt.orders, rt.courses, rt.bus, rt.auditLog, logger.Named("hooks"))
		r.Mount("/hooks", hooksfeature.Routes(hooksHandler, appCfg.HooksToken))

		// Group administration.
		groupsHandler := groupsfeature.NewHandler(rt.groups, rt.lifecycle, rt.resolver, rt.engine, rt.enrolled, rt.auditLog, rt.audit, logger.Named("groups"))
		r.Mount("/groups", groupsfeature.Routes(groupsHandler, appCfg.AdminToken))
	})

	return r
}
