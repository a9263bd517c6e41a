// internal/app/store/markers/markerstore.go
package markerstore

import (
	"context"
	"time"

	"github.com/dalemusser/cohortsync/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store persists notification dedup markers. A marker is written once and
// never cleared; the _id uniqueness is the check-and-set.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("notification_markers")}
}

// Key returns the marker id for (kind, subject).
func Key(kind, subject string) string {
	return kind + ":" + subject
}

// Claim writes the marker for (kind, subject). It returns true if this call
// wrote it and false if it was already set.
func (s *Store) Claim(ctx context.Context, kind, subject string) (bool, error) {
	_, err := s.c.InsertOne(ctx, models.NotificationMarker{
		ID:        Key(kind, subject),
		Kind:      kind,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if wafflemongo.IsDup(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsSet reports whether the marker for (kind, subject) exists.
func (s *Store) IsSet(ctx context.Context, kind, subject string) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": Key(kind, subject)})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
