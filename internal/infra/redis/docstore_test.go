package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/docstore"
)

func TestStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	if err := store.Set(ctx, "users", "u1", docstore.Fields{"teamName": "A", "totalScore": 0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("doc:users:u1") {
		t.Fatal("expected document key in redis")
	}

	if err := store.Update(ctx, "users", "u1", docstore.Fields{"totalScore": 150}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := store.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Fields["teamName"] != "A" {
		t.Fatalf("merge dropped untouched field: %+v", doc.Fields)
	}
	if score, ok := doc.Fields["totalScore"].(float64); !ok || score != 150 {
		t.Fatalf("expected totalScore 150, got %v", doc.Fields["totalScore"])
	}

	if err := store.Delete(ctx, "users", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "users", "u1"); err != docstore.ErrNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStoreSetPreservesSeq(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	if err := store.Set(ctx, "users", "u1", docstore.Fields{"v": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	first, err := store.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := store.Set(ctx, "users", "u1", docstore.Fields{"v": 2}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	second, err := store.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Seq != second.Seq {
		t.Fatalf("overwrite changed seq from %d to %d", first.Seq, second.Seq)
	}
}

func TestStoreQueryFiltersAndOrders(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	for i, uid := range []string{"u1", "u2", "u3"} {
		fields := docstore.Fields{"questionNumber": 1, "userId": uid}
		if i == 2 {
			fields["questionNumber"] = 2
		}
		if err := store.Set(ctx, "buzzerResponses", uid+":1", fields); err != nil {
			t.Fatalf("set %s: %v", uid, err)
		}
	}

	docs, err := store.Query(ctx, "buzzerResponses", docstore.Filter{Field: "questionNumber", Equals: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].Fields["userId"] != "u1" || docs[1].Fields["userId"] != "u2" {
		t.Fatalf("unexpected order: %v, %v", docs[0].Fields["userId"], docs[1].Fields["userId"])
	}
}

func TestStoreSwapAppliesMutation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	if err := store.Set(ctx, "gameState", "current", docstore.Fields{"currentQuestion": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	err = store.Swap(ctx, "gameState", "current", func(fields docstore.Fields) (docstore.Fields, error) {
		fields["currentQuestion"] = fields["currentQuestion"].(float64) + 1
		return fields, nil
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	doc, err := store.Get(ctx, "gameState", "current")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := doc.Fields["currentQuestion"].(float64); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}

	if err := store.Swap(ctx, "gameState", "missing", func(fields docstore.Fields) (docstore.Fields, error) {
		return fields, nil
	}); err != docstore.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreSubscribeDocDelivers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewStore(newClient(mr))

	if err := store.Set(ctx, "gameState", "current", docstore.Fields{"round1Active": false}); err != nil {
		t.Fatalf("set: %v", err)
	}

	updates := make(chan docstore.Document, 8)
	cancel, err := store.SubscribeDoc(ctx, "gameState", "current", func(doc docstore.Document) {
		updates <- doc
	}, func(err error) { t.Errorf("listener error: %v", err) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := store.Update(ctx, "gameState", "current", docstore.Fields{"round1Active": true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case doc := <-updates:
			if doc.Fields["round1Active"] == true {
				return
			}
		case <-deadline:
			t.Fatal("never observed the update")
		}
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
