package indexes_test

import (
	"testing"

	"github.com/dalemusser/cohortsync/internal/app/system/indexes"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestEnsureAll_Rerun(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for run := 1; run <= 2; run++ {
		if err := indexes.EnsureAll(ctx, db); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}
}

func indexNames(t *testing.T, db *mongo.Database, coll string) map[string]bool {
	t.Helper()
	ctx, cancel := testutil.TestContext()
	defer cancel()

	specs, err := db.Collection(coll).Indexes().ListSpecifications(ctx)
	if err != nil {
		t.Fatalf("list indexes on %s: %v", coll, err)
	}
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		names[s.Name] = true
	}
	return names
}

func TestEnsureAll_ReplacesNonUniqueIndex(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// Same keys as uniq_enrollments_user_course without the constraint.
	_, err := db.Collection("enrollments").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}},
		Options: options.Index().SetName("uniq_enrollments_user_course"),
	})
	if err != nil {
		t.Fatalf("create plain index: %v", err)
	}
	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll: %v", err)
	}

	specs, err := db.Collection("enrollments").Indexes().ListSpecifications(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range specs {
		if s.Name == "uniq_enrollments_user_course" && (s.Unique == nil || !*s.Unique) {
			t.Error("index was not rebuilt as unique")
		}
	}
}

func TestEnsureAll_CreatesIndexes(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	tests := []struct {
		coll string
		want []string
	}{
		{"users", []string{"uniq_users_email", "idx_users_group_ids"}},
		{"orders", []string{"idx_orders_created_group", "idx_orders_group_ids", "idx_orders_lifecycle_status_updated"}},
		{"groups", []string{"idx_groups_course_order", "idx_groups_course_lifecycle", "idx_groups_members", "idx_groups_lifecycle_updated", "idx_groups_author_titleci_id"}},
		{"enrollments", []string{"uniq_enrollments_user_course", "idx_enrollments_group_status", "idx_enrollments_order"}},
		{"notification_markers", []string{"idx_markers_kind_created"}},
		{"notification_queue", []string{"idx_queue_status_next", "idx_queue_status_updated"}},
		{"courses", []string{"idx_courses_updated"}},
		{"audit_events", []string{"idx_audit_timestamp", "idx_audit_category_type_timestamp", "idx_audit_group_timestamp", "idx_audit_order_timestamp"}},
	}

	for _, tt := range tests {
		t.Run(tt.coll, func(t *testing.T) {
			names := indexNames(t, db, tt.coll)
			for _, want := range tt.want {
				if !names[want] {
					t.Errorf("expected index %q to exist on %s", want, tt.coll)
				}
			}
		})
	}
}

func TestEnsureAll_RenamesMisnamedIndex(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	// Same keys and options as uniq_users_email, different name.
	_, err := db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_1_legacy"),
	})
	if err != nil {
		t.Fatalf("create legacy index: %v", err)
	}

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	names := indexNames(t, db, "users")
	if names["email_1_legacy"] {
		t.Error("legacy index name should have been replaced")
	}
	if !names["uniq_users_email"] {
		t.Error("expected uniq_users_email after rename")
	}
}

func TestEnsureAll_UniqueIndexEnforced(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := indexes.EnsureAll(ctx, db); err != nil {
		t.Fatalf("EnsureAll failed: %v", err)
	}

	user, course := primitive.NewObjectID(), primitive.NewObjectID()
	coll := db.Collection("enrollments")
	if _, err := coll.InsertOne(ctx, bson.M{"user_id": user, "course_id": course, "status": "active"}); err != nil {
		t.Fatalf("Insert enrollment failed: %v", err)
	}
	if _, err := coll.InsertOne(ctx, bson.M{"user_id": user, "course_id": course, "status": "inactive"}); err == nil {
		t.Error("expected duplicate key error for unique index on enrollments(user_id, course_id)")
	}
}

func TestEnsureAll_ReportsDuplicates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := db.Collection("users").InsertOne(ctx, bson.M{"email": "dup@example.com"}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	err := indexes.EnsureAll(ctx, db)
	if err == nil {
		t.Fatal("expected EnsureAll to report duplicate emails")
	}
}
