// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EnsureAll brings every collection's indexes to the desired set. It is
// idempotent and runs at startup; all collections are attempted and their
// failures joined so startup fails with the complete picture.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	sets := []struct {
		name string
		fn   func(context.Context, *mongo.Database) error
	}{
		{"users", ensureUsers},
		{"orders", ensureOrders},
		{"groups", ensureGroups},
		{"enrollments", ensureEnrollments},
		{"notification_markers", ensureNotificationMarkers},
		{"notification_queue", ensureNotificationQueue},
		{"courses", ensureCourses},
		{"audit_events", ensureAuditEvents},
	}
	var errs []error
	for _, s := range sets {
		if err := s.fn(ctx, db); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Server error code for an index whose keys exist with other options.
const codeIndexOptionsConflict = 85

// installed is an index as listed by the server.
type installed struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique,omitempty"`
}

// signature identifies an index by its ordered key spec.
func signature(keys bson.D) string {
	var b strings.Builder
	for i, kv := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%v", kv.Key, kv.Value)
	}
	return b.String()
}

// installedBySignature lists coll's indexes. A listing failure yields an
// empty map and the caller falls through to CreateOne.
func installedBySignature(ctx context.Context, coll *mongo.Collection) map[string]installed {
	out := map[string]installed{}
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return out
	}
	var all []installed
	if err := cur.All(ctx, &all); err != nil {
		zap.L().Warn("list indexes failed", zap.String("collection", coll.Name()), zap.Error(err))
		return out
	}
	for _, idx := range all {
		out[signature(idx.Key)] = idx
	}
	return out
}

// duplicatesHint explains a failed unique build for the collections whose
// uniqueness the sync engine depends on.
func duplicatesHint(coll, sig string) string {
	switch {
	case coll == "users" && strings.Contains(sig, "email:1"):
		return " (duplicates exist on users.email; find them with " +
			`db.users.aggregate([{ $group: { _id: "$email", n: { $sum: 1 } } }, { $match: { n: { $gt: 1 } } }]))`
	case coll == "enrollments" && strings.Contains(sig, "course_id:1"):
		return " (more than one enrollment per user and course; find them with " +
			`db.enrollments.aggregate([{ $group: { _id: { u: "$user_id", c: "$course_id" }, n: { $sum: 1 } } }, { $match: { n: { $gt: 1 } } }]))`
	}
	return ""
}

// wanted is a desired index with its options unpacked.
type wanted struct {
	model  mongo.IndexModel
	name   string
	unique bool
	sig    string
}

func unpack(m mongo.IndexModel) wanted {
	w := wanted{model: m, sig: signature(m.Keys.(bson.D))}
	if m.Options != nil {
		if m.Options.Name != nil {
			w.name = *m.Options.Name
		}
		w.unique = m.Options.Unique != nil && *m.Options.Unique
	}
	return w
}

// create builds w, reporting duplicate data behind a unique index clearly.
func (w wanted) create(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, w.model)
	switch {
	case err == nil:
		return nil
	case w.unique && mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: cannot create unique index%s", w.name, duplicatesHint(coll.Name(), w.sig))
	default:
		return fmt.Errorf("%s: %w", w.name, err)
	}
}

// swap drops the installed index old and builds w in its place.
func (w wanted) swap(ctx context.Context, coll *mongo.Collection, old string) error {
	if _, err := coll.Indexes().DropOne(ctx, old); err != nil {
		return fmt.Errorf("%s: drop %s: %w", w.name, old, err)
	}
	return w.create(ctx, coll)
}

// reconcile makes one desired index present. An index with the same keys is
// reused when name and uniqueness match and swapped otherwise.
func (w wanted) reconcile(ctx context.Context, coll *mongo.Collection, log *zap.Logger) error {
	if ex, ok := installedBySignature(ctx, coll)[w.sig]; ok {
		if ex.Unique == w.unique && (w.name == "" || ex.Name == w.name) {
			log.Info("reusing existing index")
			return nil
		}
		log.Info("replacing index", zap.String("from", ex.Name), zap.Bool("was_unique", ex.Unique))
		return w.swap(ctx, coll, ex.Name)
	}

	err := w.create(ctx, coll)
	var se mongo.ServerError
	if err == nil || !errors.As(err, &se) || !se.HasErrorCode(codeIndexOptionsConflict) {
		return err
	}
	// Built concurrently by another instance between list and create.
	if ex, ok := installedBySignature(ctx, coll)[w.sig]; ok {
		if ex.Unique == w.unique {
			return nil
		}
		return w.swap(ctx, coll, ex.Name)
	}
	return err
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []error
	for _, m := range models {
		w := unpack(m)
		start := time.Now()
		log := zap.L().With(
			zap.String("collection", coll.Name()),
			zap.String("name", w.name),
			zap.String("keys", w.sig),
			zap.Bool("unique", w.unique))
		if err := w.reconcile(ctx, coll, log); err != nil {
			log.Warn("index ensure failed", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		log.Info("index ensured", zap.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Email is the member identity; concurrent resolver calls rely on
		// this index to collapse into one user.
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_email"),
		},
		{
			Keys:    bson.D{{Key: "group_ids", Value: 1}},
			Options: options.Index().SetName("idx_users_group_ids"),
		},
	})
}

func ensureOrders(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("orders")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "created_group_id", Value: 1}},
			Options: options.Index().SetName("idx_orders_created_group"),
		},
		{
			Keys:    bson.D{{Key: "group_ids", Value: 1}},
			Options: options.Index().SetName("idx_orders_group_ids"),
		},
		{
			Keys: bson.D{
				{Key: "lifecycle", Value: 1},
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: -1},
			},
			Options: options.Index().SetName("idx_orders_lifecycle_status_updated"),
		},
	})
}

func ensureGroups(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("groups")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Referenced-groups lookup for an order.
		{
			Keys:    bson.D{{Key: "course_data.order_id", Value: 1}},
			Options: options.Index().SetName("idx_groups_course_order"),
		},
		// Coverage checks ("does another live group cover this member for
		// this course"). Members and course_data are both arrays, so they
		// cannot share one compound index.
		{
			Keys:    bson.D{{Key: "course_data.course_id", Value: 1}, {Key: "lifecycle", Value: 1}},
			Options: options.Index().SetName("idx_groups_course_lifecycle"),
		},
		{
			Keys:    bson.D{{Key: "members", Value: 1}},
			Options: options.Index().SetName("idx_groups_members"),
		},
		// Reconcile sweep: recently touched live groups.
		{
			Keys:    bson.D{{Key: "lifecycle", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_groups_lifecycle_updated"),
		},
		{
			Keys:    bson.D{{Key: "author_id", Value: 1}, {Key: "title_ci", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_groups_author_titleci_id"),
		},
	})
}

func ensureEnrollments(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("enrollments")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// At most one enrollment per (user, course).
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_enrollments_user_course"),
		},
		{
			Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_enrollments_group_status"),
		},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetName("idx_enrollments_order"),
		},
	})
}

func ensureNotificationMarkers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("notification_markers")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_markers_kind_created"),
		},
	})
}

func ensureNotificationQueue(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("notification_queue")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// Claim path for the delivery worker.
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}},
			Options: options.Index().SetName("idx_queue_status_next"),
		},
		// Prune path for finished items.
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_queue_status_updated"),
		},
	})
}

func ensureCourses(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("courses")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_courses_updated"),
		},
	})
}

func ensureAuditEvents(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("audit_events")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_timestamp"),
		},
		{
			Keys: bson.D{
				{Key: "category", Value: 1},
				{Key: "event_type", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("idx_audit_category_type_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "group_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_group_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_order_timestamp"),
		},
	})
}
