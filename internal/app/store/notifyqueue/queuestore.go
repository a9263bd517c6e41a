// internal/app/store/notifyqueue/queuestore.go
package notifyqueue

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Queue item status.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// DefaultMaxAttempts applies when an item is enqueued without a limit.
const DefaultMaxAttempts = 5

// Store is the deferred delivery queue for notification emails.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("notification_queue")}
}

// Enqueue stores n as pending and due now. ID and timestamps are assigned
// here.
func (s *Store) Enqueue(ctx context.Context, n models.Notification) (models.Notification, error) {
	now := time.Now().UTC()
	n.ID = uuid.NewString()
	n.Status = StatusPending
	n.Attempts = 0
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = DefaultMaxAttempts
	}
	n.NextAttemptAt = now
	n.CreatedAt = now
	n.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, n); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// ClaimDue moves one due item to "sending", counts the attempt and returns
// it. Items stuck in "sending" for longer than lease (a worker died mid-send)
// are claimable again. Returns (nil, nil) when nothing is due.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration) (*models.Notification, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"status": StatusPending, "next_attempt_at": bson.M{"$lte": now}},
		bson.M{"status": StatusSending, "updated_at": bson.M{"$lt": now.Add(-lease)}},
	}}
	update := bson.M{
		"$set": bson.M{"status": StatusSending, "updated_at": now},
		"$inc": bson.M{"attempts": 1},
	}
	var n models.Notification
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "next_attempt_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MarkDone records a successful send.
func (s *Store) MarkDone(ctx context.Context, id string) error {
	_, err := s.c.UpdateByID(ctx, id, bson.M{
		"$set":   bson.M{"status": StatusDone, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"last_error": ""},
	})
	return err
}

// MarkFailedAttempt records a failed send. The item returns to pending with
// exponential backoff, or becomes failed once its attempts are used up.
func (s *Store) MarkFailedAttempt(ctx context.Context, n models.Notification, sendErr error, base, maxDelay time.Duration) error {
	now := time.Now().UTC()
	set := bson.M{"last_error": sendErr.Error(), "updated_at": now}
	if n.Attempts >= n.MaxAttempts {
		set["status"] = StatusFailed
	} else {
		set["status"] = StatusPending
		set["next_attempt_at"] = now.Add(RetryDelay(n.Attempts, base, maxDelay))
	}
	_, err := s.c.UpdateByID(ctx, n.ID, bson.M{"$set": set})
	return err
}

// RetryDelay is base * 2^(attempts-1), capped at maxDelay.
func RetryDelay(attempts int, base, maxDelay time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 30 {
		return maxDelay
	}
	d := base * time.Duration(1<<(attempts-1))
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// Get loads one item by id.
func (s *Store) Get(ctx context.Context, id string) (models.Notification, error) {
	var n models.Notification
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	return n, err
}

// PruneDone removes delivered items last touched before cutoff.
func (s *Store) PruneDone(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"status": StatusDone, "updated_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CountByStatus returns item counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]int64{}
	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			N      int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.Status] = row.N
	}
	return out, cur.Err()
}
