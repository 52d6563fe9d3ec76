package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dagrun/codec"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutputRecord is the decoded, caller-facing shape of one output
// document: Output, Metadata and StoredData have already been run
// through the codec, so a caller never deals with raw JSON.
type OutputRecord struct {
	UUID        uuid.UUID
	Index       int
	Output      any
	CompletedAt time.Time
	Metadata    map[string]any
	Hosts       []uuid.UUID
	Name        string
	StoredData  map[string]any
}

// DefaultCollection is the collection name the serialization contract
// reserves for job output documents.
const DefaultCollection = "outputs"

// JobStore is the composite document store the engine talks to: one
// primary DocStore for the "outputs" collection, plus any number of
// named auxiliary DocStores that configured Routes splice large
// sub-fields out to.
type JobStore struct {
	primary DocStore
	aux     map[string]DocStore
	routes  []Route
	logger  *zap.Logger
}

// Option configures a JobStore at construction.
type Option func(*JobStore)

// WithAuxStore registers a named auxiliary store that Routes may target.
func WithAuxStore(name string, ds DocStore) Option {
	return func(js *JobStore) { js.aux[name] = ds }
}

// WithRoute configures a field path to be spliced into the named
// auxiliary store on write and re-hydrated from it on read.
func WithRoute(path, storeName string) Option {
	return func(js *JobStore) { js.routes = append(js.routes, Route{Path: path, Store: storeName}) }
}

// WithLogger attaches a structured logger; the zero value is a no-op
// logger.
func WithLogger(logger *zap.Logger) Option {
	return func(js *JobStore) { js.logger = logger }
}

// New builds a JobStore around a primary DocStore.
func New(primary DocStore, opts ...Option) *JobStore {
	js := &JobStore{primary: primary, aux: map[string]DocStore{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(js)
	}
	return js
}

// Connect opens the primary store and every registered auxiliary store.
func (js *JobStore) Connect(ctx context.Context) error {
	if err := js.primary.Connect(ctx); err != nil {
		return fmt.Errorf("store: connecting primary: %w", err)
	}
	for name, ds := range js.aux {
		if err := ds.Connect(ctx); err != nil {
			return fmt.Errorf("store: connecting auxiliary store %q: %w", name, err)
		}
	}
	return nil
}

// Close closes the primary store and every registered auxiliary store.
func (js *JobStore) Close(ctx context.Context) error {
	var firstErr error
	if err := js.primary.Close(ctx); err != nil {
		firstErr = err
	}
	for name, ds := range js.aux {
		if err := ds.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: closing auxiliary store %q: %w", name, err)
		}
	}
	return firstErr
}

// EnsureIndex ensures the backend can answer queries on field
// efficiently. Manager.Run calls this for the uuid field of the outputs
// collection before it schedules any job.
func (js *JobStore) EnsureIndex(ctx context.Context, collection, field string) error {
	return js.primary.EnsureIndex(ctx, collection, field)
}

// Put encodes rec through the codec, splices configured routes into
// their auxiliary stores, and writes the resulting document to
// collection (defaulting to the outputs collection).
func (js *JobStore) Put(ctx context.Context, rec OutputRecord, collection string) error {
	if collection == "" {
		collection = DefaultCollection
	}
	outputJSON, err := codec.MarshalJSON(rec.Output)
	if err != nil {
		return fmt.Errorf("store: encoding output: %w", err)
	}
	outputJSON, err = split(ctx, js.aux, outputJSON, js.routes)
	if err != nil {
		return err
	}
	metaJSON, err := codec.MarshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("store: encoding metadata: %w", err)
	}
	storedJSON, err := codec.MarshalJSON(rec.StoredData)
	if err != nil {
		return fmt.Errorf("store: encoding stored_data: %w", err)
	}
	completedAt := rec.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	doc := Document{
		UUID:        rec.UUID,
		Index:       rec.Index,
		Output:      outputJSON,
		CompletedAt: completedAt,
		Metadata:    metaJSON,
		Hosts:       rec.Hosts,
		Name:        rec.Name,
		StoredData:  storedJSON,
	}
	js.logger.Debug("store.put", zap.String("uuid", rec.UUID.String()), zap.Int("index", rec.Index), zap.String("collection", collection))
	return js.primary.Put(ctx, collection, doc)
}

// GetOne fetches a single document and decodes it, hydrating routed
// sub-fields from their auxiliary stores when load is true.
func (js *JobStore) GetOne(ctx context.Context, q Query, sort Sort, collection string, load bool) (OutputRecord, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	doc, err := js.primary.GetOne(ctx, collection, q, sort)
	if err != nil {
		return OutputRecord{}, err
	}
	return js.decode(ctx, doc, load)
}

// Query fetches and decodes every matching document.
func (js *JobStore) Query(ctx context.Context, q Query, sort Sort, limit int, collection string, load bool) ([]OutputRecord, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	docs, err := js.primary.Query(ctx, collection, q, sort, limit)
	if err != nil {
		return nil, err
	}
	recs := make([]OutputRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := js.decode(ctx, doc, load)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (js *JobStore) decode(ctx context.Context, doc Document, load bool) (OutputRecord, error) {
	outputJSON, err := hydrate(ctx, js.aux, doc.Output, js.routes, load)
	if err != nil {
		return OutputRecord{}, err
	}
	output, err := codec.UnmarshalJSON(outputJSON)
	if err != nil {
		return OutputRecord{}, fmt.Errorf("store: decoding output: %w", err)
	}
	metaAny, err := codec.UnmarshalJSON(doc.Metadata)
	if err != nil {
		return OutputRecord{}, fmt.Errorf("store: decoding metadata: %w", err)
	}
	storedAny, err := codec.UnmarshalJSON(doc.StoredData)
	if err != nil {
		return OutputRecord{}, fmt.Errorf("store: decoding stored_data: %w", err)
	}
	meta, _ := metaAny.(map[string]any)
	stored, _ := storedAny.(map[string]any)
	return OutputRecord{
		UUID:        doc.UUID,
		Index:       doc.Index,
		Output:      output,
		CompletedAt: doc.CompletedAt,
		Metadata:    meta,
		Hosts:       doc.Hosts,
		Name:        doc.Name,
		StoredData:  stored,
	}, nil
}

// Cache memoises GetOutput lookups by (uuid, resolved index) for the
// lifetime of a single Manager run. It is safe for concurrent use even
// though the engine itself runs jobs sequentially, since a job's
// function may spawn its own goroutines while resolving nested
// references.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]OutputRecord
}

type cacheKey struct {
	uuid  uuid.UUID
	index int
}

// NewCache returns an empty resolution cache.
func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]OutputRecord{}}
}

func (c *Cache) get(id uuid.UUID, index int) (OutputRecord, bool) {
	if c == nil {
		return OutputRecord{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[cacheKey{id, index}]
	return rec, ok
}

func (c *Cache) put(rec OutputRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{rec.UUID, rec.Index}] = rec
}

// GetOutput resolves the latest output document for uuid (or a
// specific index when index > 0), hydrating auxiliary-store sentinels
// and memoising the result in cache. It does not itself resolve
// References nested inside the decoded Output; that is the
// Reference-walking caller's job, since JobStore has no notion of what
// a Reference looks like once decoded.
func (js *JobStore) GetOutput(ctx context.Context, id uuid.UUID, index int, cache *Cache, load bool) (OutputRecord, error) {
	if index > 0 {
		if rec, ok := cache.get(id, index); ok {
			return rec, nil
		}
		idx := index
		rec, err := js.GetOne(ctx, Query{UUID: &id, Index: &idx}, Sort{Field: "index", Desc: true}, DefaultCollection, load)
		if err != nil {
			return OutputRecord{}, err
		}
		cache.put(rec)
		return rec, nil
	}
	recs, err := js.Query(ctx, Query{UUID: &id}, Sort{Field: "index", Desc: true}, 1, DefaultCollection, load)
	if err != nil {
		return OutputRecord{}, err
	}
	if len(recs) == 0 {
		return OutputRecord{}, ErrNotFound
	}
	cache.put(recs[0])
	return recs[0], nil
}
