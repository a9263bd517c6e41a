// internal/app/store/courses/coursestore.go
package coursestore

import (
	"context"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the local mirror of the course catalog.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("courses")}
}

// Upsert stores the display title for a course id.
func (s *Store) Upsert(ctx context.Context, id primitive.ObjectID, title string) error {
	_, err := s.c.UpdateByID(ctx, id,
		bson.M{"$set": bson.M{"title": normalize.Name(title), "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

// Title returns the display title for id, or "" if the course is unknown.
func (s *Store) Title(ctx context.Context, id primitive.ObjectID) (string, error) {
	var c models.Course
	err := s.c.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"title": 1})).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Title, nil
}

// Titles returns display titles for ids. Unknown ids are absent.
func (s *Store) Titles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetProjection(bson.M{"title": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var c models.Course
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out[c.ID] = c.Title
	}
	return out, cur.Err()
}
