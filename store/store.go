// Package store implements the composite job-output store: an abstract
// DocStore contract, concrete backends (memory, file, sqlite), and a
// splitter that routes configured output sub-fields into auxiliary
// stores on write and re-hydrates them on read.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by DocStore.GetOne when no document matches
// the query.
var ErrNotFound = errors.New("store: document not found")

// Document is the on-disk/on-wire shape of one output record. Output,
// Metadata and StoredData are already-encoded JSON (see package codec);
// DocStore backends never need to understand their contents, only store
// and retrieve them verbatim, which keeps every backend free of a
// dependency on the dagrun package itself.
type Document struct {
	UUID        uuid.UUID       `json:"uuid"`
	Index       int             `json:"index"`
	Output      json.RawMessage `json:"output"`
	CompletedAt time.Time       `json:"completed_at"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Hosts       []uuid.UUID     `json:"hosts,omitempty"`
	Name        string          `json:"name,omitempty"`
	StoredData  json.RawMessage `json:"stored_data,omitempty"`
}

// Query filters documents by uuid. Extra carries backend-specific
// filters beyond uuid equality (unused by the backends in this module,
// kept for forward compatibility with richer DocStore implementations).
type Query struct {
	UUID  *uuid.UUID
	Index *int
	Extra map[string]any
}

// Matches reports whether doc satisfies q. Shared by the in-process
// backends (Memory, File); SQLiteStore expresses the same filter as a
// SQL WHERE clause instead.
func (q Query) Matches(doc Document) bool {
	if q.UUID != nil && doc.UUID != *q.UUID {
		return false
	}
	if q.Index != nil && doc.Index != *q.Index {
		return false
	}
	return true
}

// Sort orders a Query's results by a single field.
type Sort struct {
	Field string
	Desc  bool
}

// DocStore is the minimal storage contract a concrete backend
// implements. JobStore wraps one primary DocStore (holding the outputs
// collection) plus any number of named auxiliary DocStores and the
// splitter/hydrator logic that routes large sub-fields between them.
type DocStore interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	Put(ctx context.Context, collection string, doc Document) error
	GetOne(ctx context.Context, collection string, q Query, sort Sort) (Document, error)
	Query(ctx context.Context, collection string, q Query, sort Sort, limit int) ([]Document, error)
	EnsureIndex(ctx context.Context, collection string, field string) error
}

// blobCollection is the collection of an auxiliary DocStore that the
// splitter writes routed subtrees to and reads them back from. Each blob
// is stored as a Document keyed by a fresh blob uuid at index 1, whose
// Output is the subtree's raw JSON.
const blobCollection = "blobs"
