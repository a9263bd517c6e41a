package markerstore_test

import (
	"sync"
	"sync/atomic"
	"testing"

	markerstore "github.com/dalemusser/cohortsync/internal/app/store/markers"
	"github.com/dalemusser/cohortsync/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
)

func TestStore_Claim_Once(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := markerstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ok, err := store.Claim(ctx, "group-published", "g1")
	if err != nil || !ok {
		t.Fatalf("first Claim: ok=%v err=%v", ok, err)
	}
	ok, err = store.Claim(ctx, "group-published", "g1")
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if ok {
		t.Error("second Claim should report already set")
	}

	set, _ := store.IsSet(ctx, "group-published", "g1")
	if !set {
		t.Error("IsSet should be true after Claim")
	}
	set, _ = store.IsSet(ctx, "group-published", "g2")
	if set {
		t.Error("IsSet should be false for another subject")
	}
}

func TestStore_Claim_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := markerstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(ctx, "member-joined", "g1:u1")
			if err != nil {
				t.Errorf("Claim failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Claim won %d times, want 1", wins)
	}
	n, _ := db.Collection("notification_markers").CountDocuments(ctx, bson.M{"kind": "member-joined"})
	if n != 1 {
		t.Errorf("%d member-joined markers, want 1", n)
	}
}
