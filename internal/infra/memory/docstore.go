package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trivia-live-service/internal/docstore"
)

// Store is the in-memory implementation of docstore.Store. Consistency
// comes from a per-store mutex; subscribers get buffered channels drained
// by their own goroutine so a slow consumer never blocks a write.
type Store struct {
	now func() time.Time

	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	docs    map[string]docEntry
	nextSeq int64
	docSubs map[string]map[*docSub]struct{}
	qrySubs map[*querySub]struct{}
}

type docEntry struct {
	seq    int64
	fields docstore.Fields
}

type docSub struct {
	ch     chan docstore.Document
	onNext func(docstore.Document)
	done   chan struct{}
}

type querySub struct {
	filters []docstore.Filter
	ch      chan []docstore.Document
	onNext  func([]docstore.Document)
	done    chan struct{}
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:         now,
		collections: make(map[string]*collection),
	}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{
			docs:    make(map[string]docEntry),
			docSubs: make(map[string]map[*docSub]struct{}),
			qrySubs: make(map[*querySub]struct{}),
		}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	entry, ok := c.docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Seq: entry.seq, Fields: cloneFields(entry.fields)}, nil
}

func (s *Store) Set(_ context.Context, collection, id string, fields docstore.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	fields = cloneFields(docstore.StampServerTimestamps(fields, s.now()))
	entry, ok := c.docs[id]
	if !ok {
		c.nextSeq++
		entry = docEntry{seq: c.nextSeq}
	}
	entry.fields = fields
	c.docs[id] = entry
	s.notifyLocked(c, id)
	return nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields docstore.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return docstore.ErrNotFound
	}
	entry, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	fields = cloneFields(docstore.StampServerTimestamps(fields, s.now()))
	for k, v := range fields {
		entry.fields[k] = v
	}
	c.docs[id] = entry
	s.notifyLocked(c, id)
	return nil
}

func (s *Store) Add(_ context.Context, collection string, fields docstore.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	id := uuid.NewString()
	c.nextSeq++
	c.docs[id] = docEntry{
		seq:    c.nextSeq,
		fields: cloneFields(docstore.StampServerTimestamps(fields, s.now())),
	}
	s.notifyLocked(c, id)
	return id, nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	s.notifyLocked(c, id)
	return nil
}

func (s *Store) Query(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	return queryLocked(c, filters), nil
}

// Swap runs fn under the store lock, so the read-modify-write is immune to
// lost updates from concurrent admin actions.
func (s *Store) Swap(_ context.Context, collection, id string, fn func(docstore.Fields) (docstore.Fields, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return docstore.ErrNotFound
	}
	entry, ok := c.docs[id]
	if !ok {
		return docstore.ErrNotFound
	}
	next, err := fn(cloneFields(entry.fields))
	if err != nil {
		return err
	}
	entry.fields = docstore.StampServerTimestamps(next, s.now())
	c.docs[id] = entry
	s.notifyLocked(c, id)
	return nil
}

func (s *Store) SubscribeDoc(_ context.Context, collection, id string, onNext func(docstore.Document), onErr func(error)) (func(), error) {
	sub := &docSub{
		ch:     make(chan docstore.Document, 8),
		onNext: onNext,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	c := s.coll(collection)
	if c.docSubs[id] == nil {
		c.docSubs[id] = make(map[*docSub]struct{})
	}
	c.docSubs[id][sub] = struct{}{}
	if entry, ok := c.docs[id]; ok {
		sub.ch <- docstore.Document{ID: id, Seq: entry.seq, Fields: cloneFields(entry.fields)}
	}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case doc := <-sub.ch:
				sub.onNext(doc)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.docSubs[id], sub)
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return cancel, nil
}

func (s *Store) SubscribeQuery(_ context.Context, collection string, filters []docstore.Filter, onNext func([]docstore.Document), onErr func(error)) (func(), error) {
	sub := &querySub{
		filters: filters,
		ch:      make(chan []docstore.Document, 8),
		onNext:  onNext,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	c := s.coll(collection)
	c.qrySubs[sub] = struct{}{}
	sub.ch <- queryLocked(c, filters)
	s.mu.Unlock()

	go func() {
		for {
			select {
			case docs := <-sub.ch:
				sub.onNext(docs)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(c.qrySubs, sub)
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return cancel, nil
}

// notifyLocked fans the change out to doc and query subscribers. Stale
// buffered updates are dropped so a slow client only ever sees the latest.
func (s *Store) notifyLocked(c *collection, id string) {
	if subs, ok := c.docSubs[id]; ok && len(subs) > 0 {
		entry, exists := c.docs[id]
		if exists {
			doc := docstore.Document{ID: id, Seq: entry.seq, Fields: cloneFields(entry.fields)}
			for sub := range subs {
				pushDoc(sub.ch, doc)
			}
		}
	}
	for sub := range c.qrySubs {
		pushDocs(sub.ch, queryLocked(c, sub.filters))
	}
}

func pushDoc(ch chan docstore.Document, doc docstore.Document) {
	select {
	case ch <- doc:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- doc
	}
}

func pushDocs(ch chan []docstore.Document, docs []docstore.Document) {
	select {
	case ch <- docs:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- docs
	}
}

func queryLocked(c *collection, filters []docstore.Filter) []docstore.Document {
	var out []docstore.Document
	for id, entry := range c.docs {
		doc := docstore.Document{ID: id, Seq: entry.seq, Fields: cloneFields(entry.fields)}
		if docstore.Matches(doc, filters) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// cloneFields deep-copies through JSON so callers never alias stored maps.
func cloneFields(fields docstore.Fields) docstore.Fields {
	if fields == nil {
		return docstore.Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		out := make(docstore.Fields, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	var out docstore.Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		out = make(docstore.Fields, len(fields))
		for k, v := range fields {
			out[k] = v
		}
	}
	return out
}
