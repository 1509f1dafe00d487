package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/docstore"
)

// Store is the Redis implementation of docstore.Store.
// Layout:
//
//	GET  doc:{collection}:{id}   JSON fields (seq kept under "_seq")
//	SET  docs:{collection}       member ids
//	INCR seq:{collection}        insertion counter
//	PUB  docstore:{collection}   document id on every change
//
// Subscribers re-read on publish, so every delivery reflects the latest
// committed state rather than a replayed diff.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

const seqField = "_seq"

// swapAttempts bounds the optimistic WATCH retry loop.
const swapAttempts = 5

func NewStore(client *redis.Client) *Store {
	return NewStoreWithClock(client, time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(client *redis.Client, now func() time.Time) *Store {
	return &Store{client: client, now: now}
}

func docKey(collection, id string) string { return "doc:" + collection + ":" + id }
func indexKey(collection string) string   { return "docs:" + collection }
func seqKey(collection string) string     { return "seq:" + collection }
func channelKey(collection string) string { return "docstore:" + collection }

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	raw, err := s.client.Get(ctx, docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decodeDoc(id, raw)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	fields = docstore.StampServerTimestamps(fields, s.now())
	// Preserve an existing seq; assign the next one for new documents.
	existing, err := s.Get(ctx, collection, id)
	seq := existing.Seq
	if errors.Is(err, docstore.ErrNotFound) {
		seq, err = s.client.Incr(ctx, seqKey(collection)).Result()
		if err != nil {
			return fmt.Errorf("set %s/%s: %w", collection, id, err)
		}
	} else if err != nil {
		return err
	}
	return s.write(ctx, collection, id, seq, fields)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	fields = docstore.StampServerTimestamps(fields, s.now())
	return s.Swap(ctx, collection, id, func(current docstore.Fields) (docstore.Fields, error) {
		for k, v := range fields {
			current[k] = v
		}
		return current, nil
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := uuid.NewString()
	seq, err := s.client.Incr(ctx, seqKey(collection)).Result()
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	fields = docstore.StampServerTimestamps(fields, s.now())
	if err := s.write(ctx, collection, id, seq, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docKey(collection, id))
	pipe.SRem(ctx, indexKey(collection), id)
	pipe.Publish(ctx, channelKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	ids, err := s.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	var out []docstore.Document
	for _, id := range ids {
		doc, err := s.Get(ctx, collection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue // deleted between SMEMBERS and GET
		}
		if err != nil {
			return nil, err
		}
		if docstore.Matches(doc, filters) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Swap retries an optimistic WATCH/MULTI loop so concurrent writers cannot
// lose each other's updates.
func (s *Store) Swap(ctx context.Context, collection, id string, fn func(docstore.Fields) (docstore.Fields, error)) error {
	key := docKey(collection, id)
	for attempt := 0; attempt < swapAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return docstore.ErrNotFound
			}
			if err != nil {
				return err
			}
			doc, err := decodeDoc(id, raw)
			if err != nil {
				return err
			}
			next, err := fn(doc.Fields)
			if err != nil {
				return err
			}
			next = docstore.StampServerTimestamps(next, s.now())
			next[seqField] = doc.Seq
			encoded, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("swap %s/%s: %w", collection, id, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.Publish(ctx, channelKey(collection), id)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("swap %s/%s: too many concurrent writers", collection, id)
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string, onNext func(docstore.Document), onErr func(error)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, channelKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s/%s: %w", collection, id, err)
	}

	deliver := func() {
		doc, err := s.Get(ctx, collection, id)
		if errors.Is(err, docstore.ErrNotFound) {
			return
		}
		if err != nil {
			onErr(err)
			return
		}
		onNext(doc)
	}
	deliver()

	go func() {
		for msg := range pubsub.Channel() {
			if msg.Payload == id {
				deliver()
			}
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("close doc subscription %s/%s: %v", collection, id, err)
		}
	}, nil
}

func (s *Store) SubscribeQuery(ctx context.Context, collection string, filters []docstore.Filter, onNext func([]docstore.Document), onErr func(error)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, channelKey(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	deliver := func() {
		docs, err := s.Query(ctx, collection, filters...)
		if err != nil {
			onErr(err)
			return
		}
		onNext(docs)
	}
	deliver()

	go func() {
		for range pubsub.Channel() {
			deliver()
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("close query subscription %s: %v", collection, err)
		}
	}, nil
}

func (s *Store) write(ctx context.Context, collection, id string, seq int64, fields docstore.Fields) error {
	body := make(docstore.Fields, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body[seqField] = seq
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(collection, id), encoded, 0)
	pipe.SAdd(ctx, indexKey(collection), id)
	pipe.Publish(ctx, channelKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write %s/%s: %w", collection, id, err)
	}
	return nil
}

func decodeDoc(id string, raw []byte) (docstore.Document, error) {
	var fields docstore.Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	var seq int64
	if v, ok := fields[seqField].(float64); ok {
		seq = int64(v)
	}
	delete(fields, seqField)
	return docstore.Document{ID: id, Seq: seq, Fields: fields}, nil
}
