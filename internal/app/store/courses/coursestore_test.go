package coursestore_test

import (
	"testing"

	coursestore "github.com/dalemusser/cohortsync/internal/app/store/courses"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_UpsertAndTitles(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := coursestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c1, c2 := primitive.NewObjectID(), primitive.NewObjectID()
	if err := store.Upsert(ctx, c1, " Intro to Go "); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, c1, "Intro to Go (2nd ed.)"); err != nil {
		t.Fatalf("Upsert (update) failed: %v", err)
	}

	title, err := store.Title(ctx, c1)
	if err != nil {
		t.Fatalf("Title failed: %v", err)
	}
	if title != "Intro to Go (2nd ed.)" {
		t.Errorf("Title = %q", title)
	}

	title, err = store.Title(ctx, c2)
	if err != nil || title != "" {
		t.Errorf("unknown course: title=%q err=%v", title, err)
	}

	titles, err := store.Titles(ctx, []primitive.ObjectID{c1, c2})
	if err != nil {
		t.Fatalf("Titles failed: %v", err)
	}
	if len(titles) != 1 || titles[c1] == "" {
		t.Errorf("Titles = %v", titles)
	}
}
