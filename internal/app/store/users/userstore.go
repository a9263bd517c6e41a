package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Roles. Only RoleLearner is ever granted by this service; the others are
// recognized so they are left alone.
const (
	RoleLearner    = "learner"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleInstructor = "instructor"
)

var (
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	errBadStatus      = errors.New(`status must be "active"|"disabled"`)
	errNoEmail        = errors.New("email is required")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email. Returns mongo.ErrNoDocuments if not found.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user after normalizing fields. The role is stored
// as given, including "".
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Email = normalize.Email(u.Email)
	u.FullName = normalize.Name(u.FullName)
	u.Role = normalize.Role(u.Role)
	if u.Email == "" {
		return models.User{}, errNoEmail
	}
	if u.Status == "" {
		u.Status = status.Active
	}
	if !status.IsValid(u.Status) {
		return models.User{}, errBadStatus
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return u, nil
}

// GrantRoleIfNone sets role on the user only when the user has no role.
// Returns true if the role was written.
func (s *Store) GrantRoleIfNone(ctx context.Context, id primitive.ObjectID, role string) (bool, error) {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "role": bson.M{"$in": bson.A{"", nil}}},
		bson.M{"$set": bson.M{"role": role, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// AddGroup adds groupID to the user's group set. Returns true if it was not
// already present.
func (s *Store) AddGroup(ctx context.Context, id, groupID primitive.ObjectID) (bool, error) {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "group_ids": bson.M{"$ne": groupID}},
		bson.M{
			"$addToSet": bson.M{"group_ids": groupID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, mongo.ErrNoDocuments
	}
	return false, nil
}
