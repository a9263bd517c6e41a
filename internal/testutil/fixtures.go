package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/system/status"
	"github.com/dalemusser/cohortsync/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser creates a test user with the given email and role.
func (f *Fixtures) CreateUser(ctx context.Context, email, role string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		FullName:  email,
		Email:     email,
		Role:      role,
		Status:    status.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// CreateCourse creates a catalog course with the given title.
func (f *Fixtures) CreateCourse(ctx context.Context, title string) models.Course {
	f.t.Helper()

	c := models.Course{
		ID:        primitive.NewObjectID(),
		Title:     title,
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := f.db.Collection("courses").InsertOne(ctx, c); err != nil {
		f.t.Fatalf("failed to create test course: %v", err)
	}
	return c
}

// CreateOrder creates an order for customerEmail purchasing the given courses.
func (f *Fixtures) CreateOrder(ctx context.Context, customerEmail, orderStatus string, courses ...primitive.ObjectID) models.Order {
	f.t.Helper()

	now := time.Now().UTC()
	o := models.Order{
		ID:            primitive.NewObjectID(),
		Status:        orderStatus,
		Lifecycle:     status.LifecycleActive,
		CustomerEmail: customerEmail,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, c := range courses {
		o.LineItems = append(o.LineItems, models.OrderLineItem{CourseID: c, Quantity: 1})
	}
	if _, err := f.db.Collection("orders").InsertOne(ctx, o); err != nil {
		f.t.Fatalf("failed to create test order: %v", err)
	}
	return o
}

// CreateGroupOrder creates an order carrying the "create group" marker for
// courseID.
func (f *Fixtures) CreateGroupOrder(ctx context.Context, customerEmail, orderStatus string, courseID primitive.ObjectID) models.Order {
	f.t.Helper()

	now := time.Now().UTC()
	cid := courseID
	o := models.Order{
		ID:            primitive.NewObjectID(),
		Status:        orderStatus,
		Lifecycle:     status.LifecycleActive,
		CustomerEmail: customerEmail,
		LineItems:     []models.OrderLineItem{{CourseID: courseID, Quantity: 1}},
		CreateGroup:   true,
		GroupCourseID: &cid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := f.db.Collection("orders").InsertOne(ctx, o); err != nil {
		f.t.Fatalf("failed to create test order: %v", err)
	}
	return o
}

// CreateGroup inserts a group directly, bypassing the lifecycle manager.
func (f *Fixtures) CreateGroup(ctx context.Context, title, groupStatus string, author models.User, members []string, courseData []models.CourseData) models.Group {
	f.t.Helper()

	now := time.Now().UTC()
	if members == nil {
		members = []string{}
	}
	if courseData == nil {
		courseData = []models.CourseData{}
	}
	g := models.Group{
		ID:          primitive.NewObjectID(),
		Title:       title,
		TitleCI:     text.Fold(title),
		Status:      groupStatus,
		Lifecycle:   status.LifecycleActive,
		AuthorID:    author.ID,
		AuthorEmail: author.Email,
		Members:     members,
		CourseData:  courseData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := f.db.Collection("groups").InsertOne(ctx, g); err != nil {
		f.t.Fatalf("failed to create test group: %v", err)
	}
	return g
}
