// internal/app/store/orders/orderstore.go
package orderstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no order has the requested id.
	ErrNotFound = errors.New("order not found")
	// ErrGroupAlreadyLinked is returned by LinkCreatedGroup when the order
	// already records a created group.
	ErrGroupAlreadyLinked = errors.New("order already has a created group")

	errBadStatus = errors.New("unknown order status")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("orders")}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Order, error) {
	var o models.Order
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&o); err != nil {
		return models.Order{}, notFound(err)
	}
	return o, nil
}

// GetMany loads the orders with the given ids. Missing ids are absent from
// the result.
func (s *Store) GetMany(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Order, error) {
	out := make(map[primitive.ObjectID]models.Order, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var o models.Order
		if err := cur.Decode(&o); err != nil {
			return nil, err
		}
		out[o.ID] = o
	}
	return out, cur.Err()
}

// UpsertResult describes what Upsert changed.
type UpsertResult struct {
	Order          models.Order
	Created        bool
	PreviousStatus string // "" when Created
}

// Upsert mirrors an order snapshot from the commerce system. The group
// linkage fields (created_group_id, and create_group once a group exists)
// and the lifecycle state are owned by this service and never overwritten.
func (s *Store) Upsert(ctx context.Context, o models.Order) (UpsertResult, error) {
	o.Status = status.NormalizeOrder(o.Status)
	if !status.IsOrderStatus(o.Status) {
		return UpsertResult{}, errBadStatus
	}
	o.CustomerEmail = normalize.Email(o.CustomerEmail)
	if o.LineItems == nil {
		o.LineItems = []models.OrderLineItem{}
	}
	now := time.Now().UTC()

	set := bson.M{
		"status":         o.Status,
		"customer_email": o.CustomerEmail,
		"line_items":     o.LineItems,
		"updated_at":     now,
	}
	if !o.CustomerID.IsZero() {
		set["customer_id"] = o.CustomerID
	}
	if o.GroupCourseID != nil {
		set["group_course_id"] = *o.GroupCourseID
	}
	if len(o.GroupIDs) > 0 {
		set["group_ids"] = o.GroupIDs
	}
	setOnInsert := bson.M{
		"lifecycle":  status.LifecycleActive,
		"created_at": now,
	}
	if o.CreateGroup {
		setOnInsert["create_group"] = true
	}

	var before models.Order
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": o.ID},
		bson.M{"$set": set, "$setOnInsert": setOnInsert},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&before)

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		got, gerr := s.GetByID(ctx, o.ID)
		if gerr != nil {
			return UpsertResult{}, gerr
		}
		return UpsertResult{Order: got, Created: true}, nil
	case err != nil:
		return UpsertResult{}, err
	}

	got, err := s.GetByID(ctx, o.ID)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Order: got, PreviousStatus: before.Status}, nil
}

// SetStatus writes the workflow status and returns the order as it was
// before the write.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, newStatus string) (models.Order, error) {
	newStatus = status.NormalizeOrder(newStatus)
	if !status.IsOrderStatus(newStatus) {
		return models.Order{}, errBadStatus
	}
	return s.swap(ctx, id, bson.M{"status": newStatus})
}

// SetLifecycle writes the lifecycle state and returns the order as it was
// before the write.
func (s *Store) SetLifecycle(ctx context.Context, id primitive.ObjectID, lifecycle string) (models.Order, error) {
	return s.swap(ctx, id, bson.M{"lifecycle": lifecycle})
}

func (s *Store) swap(ctx context.Context, id primitive.ObjectID, set bson.M) (models.Order, error) {
	set["updated_at"] = time.Now().UTC()
	var before models.Order
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		return models.Order{}, notFound(err)
	}
	return before, nil
}

// LinkCreatedGroup records groupID as the order's created group and clears
// the create_group marker. It only succeeds while created_group_id is unset,
// which makes it the guard against a second group for the same order.
func (s *Store) LinkCreatedGroup(ctx context.Context, orderID, groupID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": orderID, "created_group_id": nil},
		bson.M{
			"$set":   bson.M{"created_group_id": groupID, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"create_group": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, cerr := s.c.CountDocuments(ctx, bson.M{"_id": orderID})
		if cerr != nil {
			return cerr
		}
		if n == 0 {
			return ErrNotFound
		}
		return ErrGroupAlreadyLinked
	}
	return nil
}

// AddLegacyGroup appends groupID to the order's legacy group list.
func (s *Store) AddLegacyGroup(ctx context.Context, orderID, groupID primitive.ObjectID) error {
	res, err := s.c.UpdateByID(ctx, orderID, bson.M{
		"$addToSet": bson.M{"group_ids": groupID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDsByGroup returns the orders that name groupID as their created group
// or in their legacy group list.
func (s *Store) ListIDsByGroup(ctx context.Context, groupID primitive.ObjectID) ([]primitive.ObjectID, error) {
	cur, err := s.c.Find(ctx,
		bson.M{"$or": bson.A{
			bson.M{"created_group_id": groupID},
			bson.M{"group_ids": groupID},
		}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, row.ID)
	}
	return out, cur.Err()
}
