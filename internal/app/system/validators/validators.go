// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/cohortsync/internal/app/store/notifyqueue"
	"github.com/dalemusser/cohortsync/internal/app/system/status"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// collection pairs a collection with its JSON schema; a nil schema only
// creates the collection.
type collection struct {
	name   string
	schema bson.M
}

func collections() []collection {
	return []collection{
		{"orders", ordersSchema()},
		{"courses", coursesSchema()},
		{"groups", groupsSchema()},
		{"enrollments", enrollmentsSchema()},
		{"users", usersSchema()},
		{"notification_queue", notificationQueueSchema()},
		{"notification_markers", nil},
		{"audit_events", nil},
	}
}

// Server error codes EnsureAll tolerates.
const (
	codeNamespaceExists = 48
	codeCommandNotFound = 59
	codeNotImplemented  = 115
)

// EnsureAll creates any missing collection and attaches its validator with
// validationLevel "moderate": new writes must conform, while documents that
// already violate the schema can still be updated. Servers without collMod
// support (some DocumentDB versions) keep their collections unvalidated.
// Every collection is attempted; failures are joined into one error.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	existing := map[string]bool{}
	if names, err := db.ListCollectionNames(ctx, bson.M{}); err == nil {
		for _, n := range names {
			existing[n] = true
		}
	}

	var errs []error
	for _, c := range collections() {
		if err := ensure(ctx, db, c, existing[c.name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func ensure(ctx context.Context, db *mongo.Database, c collection, exists bool) error {
	log := zap.L().With(zap.String("collection", c.name))
	if !exists {
		if err := db.CreateCollection(ctx, c.name); err != nil && !hasCode(err, codeNamespaceExists) {
			return err
		}
		log.Info("created collection")
	}
	if c.schema == nil {
		return nil
	}

	cmd := bson.D{
		{Key: "collMod", Value: c.name},
		{Key: "validator", Value: c.schema},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	err := db.RunCommand(ctx, cmd).Err()
	switch {
	case err == nil:
		log.Info("validator ensured")
	case hasCode(err, codeCommandNotFound, codeNotImplemented):
		log.Info("validator skipped (unsupported)")
		err = nil
	}
	return err
}

// hasCode reports whether err is a server error carrying one of codes.
func hasCode(err error, codes ...int) bool {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.HasErrorCode(c) {
			return true
		}
	}
	return false
}

func enumOf(vals ...string) bson.M {
	a := bson.A{}
	for _, v := range vals {
		a = append(a, v)
	}
	return bson.M{"enum": a}
}

func lifecycleEnum() bson.M {
	return enumOf(status.LifecycleActive, status.LifecycleTrashed, status.LifecycleDeleted)
}

func ordersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"status"},
			"properties": bson.M{
				"status": enumOf(
					status.OrderPending, status.OrderOnHold, status.OrderProcessing,
					status.OrderCompleted, status.OrderCancelled, status.OrderRefunded, status.OrderFailed,
				),
				"lifecycle":        lifecycleEnum(),
				"customer_email":   bson.M{"bsonType": "string"},
				"create_group":     bson.M{"bsonType": "bool"},
				"group_course_id":  bson.M{"bsonType": "objectId"},
				"created_group_id": bson.M{"bsonType": "objectId"},
				"group_ids":        bson.M{"bsonType": "array", "items": bson.M{"bsonType": "objectId"}},
				"line_items": bson.M{
					"bsonType": bson.A{"array", "null"},
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"course_id"},
						"properties": bson.M{
							"course_id": bson.M{"bsonType": "objectId"},
							"quantity":  bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
						},
					},
				},
			},
		},
	}
}

func coursesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"title"},
			"properties": bson.M{
				"title": bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
			},
		},
	}
}

func groupsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"title", "status"},
			"properties": bson.M{
				"title":     bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"title_ci":  bson.M{"bsonType": "string"},
				"status":    enumOf(status.GroupDraft, status.GroupPublished),
				"lifecycle": lifecycleEnum(),
				"author_id": bson.M{"bsonType": "objectId"},
				"members":   bson.M{"bsonType": bson.A{"array", "null"}, "items": bson.M{"bsonType": "string"}},
				"course_data": bson.M{
					"bsonType": bson.A{"array", "null"},
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"course_id", "enrolled_status"},
						"properties": bson.M{
							"course_id":       bson.M{"bsonType": "objectId"},
							"order_id":        bson.M{"bsonType": "objectId"},
							"enrolled_status": enumOf(status.EnrollmentActive, status.EnrollmentInactive),
						},
					},
				},
			},
		},
	}
}

func enrollmentsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"user_id", "course_id", "status"},
			"properties": bson.M{
				"user_id":   bson.M{"bsonType": "objectId"},
				"course_id": bson.M{"bsonType": "objectId"},
				"group_id":  bson.M{"bsonType": bson.A{"objectId", "null"}},
				"order_id":  bson.M{"bsonType": "objectId"},
				"status":    enumOf(status.EnrollmentActive, status.EnrollmentInactive),
			},
		},
	}
}

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"email"},
			"properties": bson.M{
				"email":     bson.M{"bsonType": "string", "minLength": 3},
				"full_name": bson.M{"bsonType": "string"},
				"role":      bson.M{"bsonType": "string"},
				"status":    enumOf(status.Active, status.Disabled),
				"group_ids": bson.M{"bsonType": "array", "items": bson.M{"bsonType": "objectId"}},
			},
		},
	}
}

func notificationQueueSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"kind", "to", "status"},
			"properties": bson.M{
				"kind":     bson.M{"bsonType": "string", "minLength": 1},
				"to":       bson.M{"bsonType": "string", "minLength": 3},
				"status":   enumOf(notifyqueue.StatusPending, notifyqueue.StatusSending, notifyqueue.StatusDone, notifyqueue.StatusFailed),
				"attempts": bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
			},
		},
	}
}
