// internal/app/store/groups/groupstore.go
package groupstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/normalize"
	"github.com/dalemusser/cohortsync/internal/app/system/paging"
	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no group has the requested id.
var ErrNotFound = errors.New("group not found")

var errBadStatus = errors.New(`status must be "draft"|"published"`)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("groups")}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Group, error) {
	var g models.Group
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		return models.Group{}, notFound(err)
	}
	return g, nil
}

// Insert stores a new group. Members are normalized and de-duplicated;
// Status defaults to draft and Lifecycle to active.
func (s *Store) Insert(ctx context.Context, g models.Group) (models.Group, error) {
	now := time.Now().UTC()
	if g.ID.IsZero() {
		g.ID = primitive.NewObjectID()
	}
	g.Title = normalize.Name(g.Title)
	g.TitleCI = text.Fold(g.Title)
	if g.Status == "" {
		g.Status = status.GroupDraft
	}
	if !status.IsGroupStatus(g.Status) {
		return models.Group{}, errBadStatus
	}
	g.Lifecycle = status.LifecycleActive
	g.AuthorEmail = normalize.Email(g.AuthorEmail)
	g.Members = normalize.Emails(g.Members)
	if g.CourseData == nil {
		g.CourseData = []models.CourseData{}
	}
	g.CreatedAt = now
	g.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// UpdateInfo sets title and description. An empty title or a nil desc
// leaves that field unchanged; a non-nil empty desc clears it.
func (s *Store) UpdateInfo(ctx context.Context, id primitive.ObjectID, title string, desc *string) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	if desc != nil {
		set["description"] = *desc
	}
	if t := normalize.Name(title); t != "" {
		set["title"] = t
		set["title_ci"] = text.Fold(t)
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus writes the workflow status and returns the value it replaced.
func (s *Store) SetStatus(ctx context.Context, id primitive.ObjectID, newStatus string) (string, error) {
	if !status.IsGroupStatus(newStatus) {
		return "", errBadStatus
	}
	return s.swap(ctx, id, "status", newStatus)
}

// SetLifecycle writes the lifecycle state and returns the value it replaced.
func (s *Store) SetLifecycle(ctx context.Context, id primitive.ObjectID, lifecycle string) (string, error) {
	return s.swap(ctx, id, "lifecycle", lifecycle)
}

func (s *Store) swap(ctx context.Context, id primitive.ObjectID, field, value string) (string, error) {
	var before struct {
		Status    string `bson:"status"`
		Lifecycle string `bson:"lifecycle"`
	}
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{field: value, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"status": 1, "lifecycle": 1}),
	).Decode(&before)
	if err != nil {
		return "", notFound(err)
	}
	if field == "status" {
		return before.Status, nil
	}
	if before.Lifecycle == "" {
		return status.LifecycleActive, nil
	}
	return before.Lifecycle, nil
}

// AddMembers appends the emails that are not already on the roster and
// returns them in input order. Emails must already be normalized.
func (s *Store) AddMembers(ctx context.Context, id primitive.ObjectID, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	var before models.Group
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$addToSet": bson.M{"members": bson.M{"$each": emails}},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"members": 1}),
	).Decode(&before)
	if err != nil {
		return nil, notFound(err)
	}
	var added []string
	for _, e := range emails {
		if !before.HasMember(e) {
			added = append(added, e)
		}
	}
	return added, nil
}

// RemoveMembers pulls emails from the roster and returns those that were
// actually present.
func (s *Store) RemoveMembers(ctx context.Context, id primitive.ObjectID, emails []string) ([]string, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	var before models.Group
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$pullAll": bson.M{"members": emails},
			"$set":     bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().
			SetReturnDocument(options.Before).
			SetProjection(bson.M{"members": 1}),
	).Decode(&before)
	if err != nil {
		return nil, notFound(err)
	}
	var removed []string
	for _, e := range emails {
		if before.HasMember(e) {
			removed = append(removed, e)
		}
	}
	return removed, nil
}

// SetCourseData replaces the course_data list. Callers hold the group lock
// and pass the merged list.
func (s *Store) SetCourseData(ctx context.Context, id primitive.ObjectID, cd []models.CourseData) error {
	if cd == nil {
		cd = []models.CourseData{}
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"course_data": cd,
		"updated_at":  time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDsByOrder returns the ids of groups with a course_data entry paid for
// by orderID.
func (s *Store) ListIDsByOrder(ctx context.Context, orderID primitive.ObjectID) ([]primitive.ObjectID, error) {
	return s.ids(ctx, bson.M{"course_data.order_id": orderID}, options.Find())
}

// CoversMember reports whether a live group other than exclude has email on
// its roster and an active course_data entry for courseID.
func (s *Store) CoversMember(ctx context.Context, courseID primitive.ObjectID, email string, exclude primitive.ObjectID) (bool, error) {
	filter := bson.M{
		"_id":       bson.M{"$ne": exclude},
		"lifecycle": bson.M{"$in": bson.A{status.LifecycleActive, "", nil}},
		"members":   email,
		"course_data": bson.M{"$elemMatch": bson.M{
			"course_id":       courseID,
			"enrolled_status": status.EnrollmentActive,
		}},
	}
	n, err := s.c.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListIDsUpdatedSince returns groups touched since the given time, oldest
// first, for the reconcile sweep. Deleted groups are included so that their
// demotion can be re-applied.
func (s *Store) ListIDsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]primitive.ObjectID, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.ids(ctx, bson.M{"updated_at": bson.M{"$gte": since}}, opts)
}

func (s *Store) ids(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]primitive.ObjectID, error) {
	opts.SetProjection(bson.M{"_id": 1})
	cur, err := s.c.Find(ctx, filter, opts)
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

// ListFilter narrows List results.
type ListFilter struct {
	AuthorID  *primitive.ObjectID
	Status    string
	Lifecycle string
	Search    string // title prefix, case/diacritics folded
	Page      paging.Page
}

// List returns one page of groups ordered by title, and the cursor for the
// next page ("" on the last page).
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Group, string, error) {
	q := bson.M{}
	if f.AuthorID != nil {
		q["author_id"] = *f.AuthorID
	}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Lifecycle != "" {
		q["lifecycle"] = f.Lifecycle
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q["title_ci"] = bson.M{"$regex": "^" + regexp.QuoteMeta(text.Fold(term))}
	}
	if w := f.Page.Window("title_ci"); w != nil {
		q = bson.M{"$and": bson.A{q, w}}
	}
	opts := options.Find()
	f.Page.ApplyToFind(opts, "title_ci")

	cur, err := s.c.Find(ctx, q, opts)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var out []models.Group
	if err := cur.All(ctx, &out); err != nil {
		return nil, "", err
	}
	more := paging.Trim(&out, f.Page)
	next := paging.Next(out, more,
		func(g models.Group) string { return g.TitleCI },
		func(g models.Group) primitive.ObjectID { return g.ID })
	return out, next, nil
}
