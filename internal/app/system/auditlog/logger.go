// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/cohortsync/internal/app/cohort/events"
	"github.com/dalemusser/cohortsync/internal/app/store/audit"
	"github.com/dalemusser/cohortsync/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
//
// Each value is one of "all" (MongoDB + zap), "db" (MongoDB only),
// "log" (zap only) or "off" (disabled).
type Config struct {
	// Sync controls logging for lifecycle events processed by the engine.
	Sync string
	// Hook controls logging for commerce hook calls.
	Hook string
	// Admin controls logging for admin API actions.
	Admin string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// clientIP is the caller address recorded on hook and admin events.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	return ratelimit.ClientIP(r)
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}

	if event.GroupID != nil {
		fields = append(fields, zap.String("group_id", event.GroupID.Hex()))
	}
	if event.OrderID != nil {
		fields = append(fields, zap.String("order_id", event.OrderID.Hex()))
	}
	if event.SourceEventID != "" {
		fields = append(fields, zap.String("event_id", event.SourceEventID))
	}
	if event.Cause != "" {
		fields = append(fields, zap.String("cause", event.Cause))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategorySync:
		setting = l.config.Sync
	case audit.CategoryHook:
		setting = l.config.Hook
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}
	if setting == "" {
		setting = "all"
	}

	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}

	if setting == "all" || setting == "db" {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// --- Sync Events ---

// ObserveEvent records a processed lifecycle event. Its signature matches
// events.Observer so it can be registered on the bus directly.
func (l *Logger) ObserveEvent(ctx context.Context, ev events.Event, err error) {
	if l == nil {
		return
	}
	e := audit.Event{
		Timestamp:     ev.RaisedAt,
		Category:      audit.CategorySync,
		EventType:     string(ev.Kind),
		SourceEventID: ev.ID,
		Cause:         string(ev.Cause),
		Success:       err == nil,
	}
	if !ev.GroupID.IsZero() {
		id := ev.GroupID
		e.GroupID = &id
	}
	if !ev.OrderID.IsZero() {
		id := ev.OrderID
		e.OrderID = &id
	}
	if err != nil {
		e.FailureReason = err.Error()
	}

	details := map[string]string{}
	if ev.OldStatus != "" || ev.NewStatus != "" {
		details["old_status"] = ev.OldStatus
		details["new_status"] = ev.NewStatus
	}
	if len(ev.Added) > 0 {
		details["added"] = strconv.Itoa(len(ev.Added))
	}
	if len(ev.Removed) > 0 {
		details["removed"] = strconv.Itoa(len(ev.Removed))
	}
	if len(details) > 0 {
		e.Details = details
	}
	l.Log(ctx, e)
}

// --- Hook Events ---

// OrderReceived logs an order snapshot delivered by the commerce system.
func (l *Logger) OrderReceived(ctx context.Context, r *http.Request, orderID primitive.ObjectID, orderStatus string, created bool) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryHook,
		EventType: audit.EventHookOrderReceived,
		OrderID:   &orderID,
		IP:        clientIP(r),
		Success:   true,
		Details: map[string]string{
			"status":  orderStatus,
			"created": boolToString(created),
		},
	})
}

// OrderStatus logs an order status change hook.
func (l *Logger) OrderStatus(ctx context.Context, r *http.Request, orderID primitive.ObjectID, oldStatus, newStatus string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryHook,
		EventType: audit.EventHookOrderStatus,
		OrderID:   &orderID,
		IP:        clientIP(r),
		Success:   true,
		Details: map[string]string{
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})
}

// OrderLifecycle logs an order trash, delete or restore hook.
func (l *Logger) OrderLifecycle(ctx context.Context, r *http.Request, orderID primitive.ObjectID, lifecycle string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryHook,
		EventType: audit.EventHookOrderLifecycle,
		OrderID:   &orderID,
		IP:        clientIP(r),
		Success:   true,
		Details:   map[string]string{"lifecycle": lifecycle},
	})
}

// CourseUpserted logs a catalog update.
func (l *Logger) CourseUpserted(ctx context.Context, r *http.Request, courseID primitive.ObjectID, title string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryHook,
		EventType: audit.EventHookCourseUpserted,
		IP:        clientIP(r),
		Success:   true,
		Details: map[string]string{
			"course_id": courseID.Hex(),
			"title":     title,
		},
	})
}

// PayloadRejected logs a hook call that failed validation or authentication.
func (l *Logger) PayloadRejected(ctx context.Context, r *http.Request, reason string) {
	path := ""
	if r != nil {
		path = r.URL.Path
	}
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryHook,
		EventType:     audit.EventHookRejected,
		IP:            clientIP(r),
		Success:       false,
		FailureReason: reason,
		Details:       map[string]string{"path": path},
	})
}

// --- Admin Events ---

func (l *Logger) admin(ctx context.Context, r *http.Request, eventType string, groupID primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: eventType,
		GroupID:   &groupID,
		IP:        clientIP(r),
		Success:   true,
		Details:   details,
	})
}

// GroupCreated logs a group created through the admin API.
func (l *Logger) GroupCreated(ctx context.Context, r *http.Request, groupID primitive.ObjectID, title string) {
	l.admin(ctx, r, audit.EventGroupCreated, groupID, map[string]string{"title": title})
}

// GroupUpdated logs a title or description edit.
func (l *Logger) GroupUpdated(ctx context.Context, r *http.Request, groupID primitive.ObjectID, fieldsChanged string) {
	l.admin(ctx, r, audit.EventGroupUpdated, groupID, map[string]string{"fields_changed": fieldsChanged})
}

// GroupStatusSet logs an explicit status change by an author or admin.
func (l *Logger) GroupStatusSet(ctx context.Context, r *http.Request, groupID primitive.ObjectID, oldStatus, newStatus string) {
	l.admin(ctx, r, audit.EventGroupStatusSet, groupID, map[string]string{
		"old_status": oldStatus,
		"new_status": newStatus,
	})
}

// GroupLifecycle logs a trash, restore or delete action.
func (l *Logger) GroupLifecycle(ctx context.Context, r *http.Request, groupID primitive.ObjectID, eventType string) {
	l.admin(ctx, r, eventType, groupID, nil)
}

// MembersAdded logs a roster addition.
func (l *Logger) MembersAdded(ctx context.Context, r *http.Request, groupID primitive.ObjectID, requested, added int) {
	l.admin(ctx, r, audit.EventMembersAdded, groupID, map[string]string{
		"requested": intToString(requested),
		"added":     intToString(added),
	})
}

// MembersRemoved logs a roster removal.
func (l *Logger) MembersRemoved(ctx context.Context, r *http.Request, groupID primitive.ObjectID, requested, removed int) {
	l.admin(ctx, r, audit.EventMembersRemoved, groupID, map[string]string{
		"requested": intToString(requested),
		"removed":   intToString(removed),
	})
}

// ReconcileRequested logs a manual reconcile of one group.
func (l *Logger) ReconcileRequested(ctx context.Context, r *http.Request, groupID primitive.ObjectID) {
	l.admin(ctx, r, audit.EventReconcileRequested, groupID, nil)
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func intToString(i int) string {
	return strconv.Itoa(i)
}
