// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Categories.
const (
	CategorySync  = "sync"  // lifecycle events processed by the engine
	CategoryHook  = "hook"  // commerce hook calls
	CategoryAdmin = "admin" // admin API actions
)

// Admin event types. Sync events use the lifecycle event kind as their type.
const (
	EventGroupCreated       = "group_created"
	EventGroupUpdated       = "group_updated"
	EventGroupStatusSet     = "group_status_set"
	EventGroupTrashed       = "group_trashed"
	EventGroupRestored      = "group_restored"
	EventGroupDeleted       = "group_deleted"
	EventMembersAdded       = "members_added"
	EventMembersRemoved     = "members_removed"
	EventReconcileRequested = "reconcile_requested"
	EventHookOrderReceived  = "order_received"
	EventHookOrderStatus    = "order_status"
	EventHookOrderLifecycle = "order_lifecycle"
	EventHookCourseUpserted = "course_upserted"
	EventHookRejected       = "payload_rejected"
)

// Event is one audit record. Sync events carry the bus event id and the
// cause (author, order, system) that raised them.
type Event struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Timestamp     time.Time           `bson:"timestamp" json:"timestamp"`
	Category      string              `bson:"category" json:"category"`
	EventType     string              `bson:"event_type" json:"event_type"`
	GroupID       *primitive.ObjectID `bson:"group_id,omitempty" json:"group_id,omitempty"`
	OrderID       *primitive.ObjectID `bson:"order_id,omitempty" json:"order_id,omitempty"`
	UserID        *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
	SourceEventID string              `bson:"source_event_id,omitempty" json:"source_event_id,omitempty"`
	Cause         string              `bson:"cause,omitempty" json:"cause,omitempty"`
	IP            string              `bson:"ip,omitempty" json:"ip,omitempty"`
	Success       bool                `bson:"success" json:"success"`
	FailureReason string              `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	Details       map[string]string   `bson:"details,omitempty" json:"details,omitempty"`
}

// Filter selects audit events. Zero fields do not constrain.
type Filter struct {
	GroupID    *primitive.ObjectID
	OrderID    *primitive.ObjectID
	Category   string
	EventType  string
	FailedOnly bool
	Since      time.Time // inclusive
	Until      time.Time // inclusive
}

func (f Filter) query() bson.M {
	q := bson.M{}
	if f.GroupID != nil {
		q["group_id"] = *f.GroupID
	}
	if f.OrderID != nil {
		q["order_id"] = *f.OrderID
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.EventType != "" {
		q["event_type"] = f.EventType
	}
	if f.FailedOnly {
		q["success"] = false
	}
	ts := bson.M{}
	if !f.Since.IsZero() {
		ts["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		ts["$lte"] = f.Until
	}
	if len(ts) > 0 {
		q["timestamp"] = ts
	}
	return q
}

// DefaultLimit caps List when the caller passes no limit.
const DefaultLimit = 100

// Store persists audit events in the audit_events collection.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// Log inserts event, assigning its ID and timestamp when unset.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// List returns events matching f, newest first, skipping offset and
// returning at most limit (DefaultLimit when limit <= 0).
func (s *Store) List(ctx context.Context, f Filter, limit, offset int64) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(max(offset, 0)).
		SetLimit(limit)

	cur, err := s.c.Find(ctx, f.query(), opts)
	if err != nil {
		return nil, err
	}
	events := []Event{}
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns how many events match f.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	return s.c.CountDocuments(ctx, f.query())
}

// PruneBefore removes events older than cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
