// Package docstore defines the document-database contract the game engine
// runs against: per-document CRUD, atomic field merges, server-generated
// timestamps, and query plus real-time subscription over collections.
// Implementations live under internal/infra.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get, Update, Delete and Swap when the document
// does not exist.
var ErrNotFound = errors.New("document not found")

// Fields is the flat field map of one document. Values are JSON types
// (string, float64, bool, nested maps/slices) so the same document shape
// round-trips through every implementation.
type Fields = map[string]any

// Document is one stored record. Seq is assigned on Add, monotonically
// increasing per collection, and gives a stable insertion order.
type Document struct {
	ID     string
	Seq    int64
	Fields Fields
}

// Filter selects documents whose field equals a value. Numeric values are
// compared across int/float representations.
type Filter struct {
	Field  string
	Equals any
}

// serverTimestamp is the sentinel replaced by the store's own clock at
// write time, so clients never trust local clocks for audit ordering.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be stamped with the store's clock.
var ServerTimestamp = serverTimestamp{}

// Store is the persistence substrate. All methods are safe for concurrent
// use. Subscription callbacks are invoked from store-owned goroutines; the
// returned cancel function tears the subscription down and must be called
// to avoid leaking live listeners.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes the full document, creating or overwriting. Idempotent.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// Update atomically merges partial fields into an existing document;
	// fails with ErrNotFound if the document is absent.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Add appends a document with a generated id and returns the id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, collection, id string) error
	// Query returns a point-in-time read of all documents matching every
	// filter, in insertion (Seq) order.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Swap applies a compare-and-swap read-modify-write to one document.
	// fn receives the current fields and returns the replacement; the write
	// only lands if no concurrent writer touched the document in between.
	Swap(ctx context.Context, collection, id string, fn func(Fields) (Fields, error)) error
	// SubscribeDoc pushes the document on every change. The first delivery
	// is the current state. Errors go to onErr and the subscription stays
	// up where possible (callers serve a last-known/default value).
	SubscribeDoc(ctx context.Context, collection, id string, onNext func(Document), onErr func(error)) (func(), error)
	// SubscribeQuery pushes the full matching set on every change to the
	// collection.
	SubscribeQuery(ctx context.Context, collection string, filters []Filter, onNext func([]Document), onErr func(error)) (func(), error)
}

// Encode flattens any JSON-marshalable value into Fields.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return fields, nil
}

// Decode rebuilds a typed value from a document's fields.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return nil
}

// Matches reports whether a document satisfies every filter.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !equalValue(doc.Fields[f.Field], f.Equals) {
			return false
		}
	}
	return true
}

// StampServerTimestamps replaces ServerTimestamp sentinels with now,
// encoded the way json marshals time.Time so decodes are uniform.
func StampServerTimestamps(fields Fields, now time.Time) Fields {
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			fields[k] = now.UTC().Format(time.RFC3339Nano)
		}
	}
	return fields
}

// equalValue compares filter values against stored values, tolerating the
// int/float64 split JSON decoding introduces.
func equalValue(stored, want any) bool {
	if sf, ok := asFloat(stored); ok {
		if wf, ok := asFloat(want); ok {
			return sf == wf
		}
		return false
	}
	return fmt.Sprint(stored) == fmt.Sprint(want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
