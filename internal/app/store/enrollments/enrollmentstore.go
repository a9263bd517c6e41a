// internal/app/store/enrollments/enrollmentstore.go
package enrollmentstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	errBadStatus = errors.New(`status must be "active"|"inactive"`)
	errNoGroup   = errors.New("group enrollment requires a group id")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("enrollments")}
}

// UpsertInput identifies the (user, course) pair and the group linkage and
// status to write.
type UpsertInput struct {
	UserID   primitive.ObjectID
	CourseID primitive.ObjectID
	GroupID  primitive.ObjectID
	OrderID  *primitive.ObjectID
	Status   string
}

// UpsertResult reports what Upsert did.
//
// Created is true when this call inserted the record. PreviousStatus is the
// status before the write ("" when Created). Direct is true when the pair is
// held by a direct enrollment, in which case nothing was written.
type UpsertResult struct {
	Enrollment     models.Enrollment
	Created        bool
	PreviousStatus string
	Direct         bool
}

// Activated reports whether this write moved the pair into "active", either
// by creating it active or by flipping it from another status.
func (r UpsertResult) Activated() bool {
	if r.Direct || r.Enrollment.Status != status.EnrollmentActive {
		return false
	}
	return r.Created || r.PreviousStatus != status.EnrollmentActive
}

// Upsert writes the group enrollment for (UserID, CourseID). An existing
// group record keeps its start_at and has status, group and order
// overwritten; a missing record is created with start_at = now. Direct
// (group_id null) records are left untouched.
//
// Safe to repeat: the unique (user_id, course_id) index turns a racing
// insert into a duplicate-key error, which is retried as an update.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	if in.Status != status.EnrollmentActive && in.Status != status.EnrollmentInactive {
		return UpsertResult{}, errBadStatus
	}
	if in.GroupID.IsZero() {
		return UpsertResult{}, errNoGroup
	}

	res, err := s.upsertOnce(ctx, in)
	if err != nil && wafflemongo.IsDup(err) {
		// Lost an insert race, or the pair is held by a direct record.
		res, err = s.upsertOnce(ctx, in)
		if err != nil && wafflemongo.IsDup(err) {
			return s.directResult(ctx, in)
		}
	}
	return res, err
}

func (s *Store) upsertOnce(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	now := time.Now().UTC()
	newID := primitive.NewObjectID()
	gid := in.GroupID

	filter := bson.M{
		"user_id":   in.UserID,
		"course_id": in.CourseID,
		"group_id":  bson.M{"$ne": nil},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     in.Status,
			"group_id":   gid,
			"order_id":   in.OrderID,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":        newID,
			"start_at":   now,
			"created_at": now,
		},
	}

	var before models.Enrollment
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&before)

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return UpsertResult{
			Created: true,
			Enrollment: models.Enrollment{
				ID:        newID,
				UserID:    in.UserID,
				CourseID:  in.CourseID,
				GroupID:   &gid,
				OrderID:   in.OrderID,
				Status:    in.Status,
				StartAt:   now,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}, nil
	case err != nil:
		return UpsertResult{}, err
	}

	after := before
	after.Status = in.Status
	after.GroupID = &gid
	after.OrderID = in.OrderID
	after.UpdatedAt = now
	return UpsertResult{Enrollment: after, PreviousStatus: before.Status}, nil
}

func (s *Store) directResult(ctx context.Context, in UpsertInput) (UpsertResult, error) {
	e, err := s.Get(ctx, in.UserID, in.CourseID)
	if err != nil {
		return UpsertResult{}, err
	}
	if !e.IsDirect() {
		return UpsertResult{}, errors.New("enrollment upsert: duplicate key on a group record")
	}
	return UpsertResult{Enrollment: e, PreviousStatus: e.Status, Direct: true}, nil
}

// Get loads the enrollment for (userID, courseID). Returns
// mongo.ErrNoDocuments if none exists.
func (s *Store) Get(ctx context.Context, userID, courseID primitive.ObjectID) (models.Enrollment, error) {
	var e models.Enrollment
	err := s.c.FindOne(ctx, bson.M{"user_id": userID, "course_id": courseID}).Decode(&e)
	return e, err
}

// DeactivateForGroup sets every active enrollment of userID that is linked to
// groupID to inactive and returns the number changed. When courseIDs are
// given only those courses are touched.
func (s *Store) DeactivateForGroup(ctx context.Context, userID, groupID primitive.ObjectID, courseIDs ...primitive.ObjectID) (int64, error) {
	filter := bson.M{"user_id": userID, "group_id": groupID, "status": status.EnrollmentActive}
	if len(courseIDs) > 0 {
		filter["course_id"] = bson.M{"$in": courseIDs}
	}
	res, err := s.c.UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{"status": status.EnrollmentInactive, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListByGroup returns the enrollments linked to groupID.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.Enrollment, error) {
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "course_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Enrollment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByGroup returns enrollment counts for groupID keyed by status.
func (s *Store) CountByGroup(ctx context.Context, groupID primitive.ObjectID) (map[string]int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"group_id": groupID}}},
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
