package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process DocStore backed by a map, the default
// store for tests and for workflows that never outlive a single
// process. Collections are independent document tables keyed by uuid.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]map[uuid.UUID][]Document // collection -> uuid -> documents, insertion order
	indexed   map[string]map[string]bool          // collection -> field -> ensured
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: map[string]map[uuid.UUID][]Document{},
		indexed:   map[string]map[string]bool{},
	}
}

func (s *MemoryStore) Connect(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func (s *MemoryStore) Put(ctx context.Context, collection string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUUID, ok := s.documents[collection]
	if !ok {
		byUUID = map[uuid.UUID][]Document{}
		s.documents[collection] = byUUID
	}
	byUUID[doc.UUID] = append(byUUID[doc.UUID], doc)
	return nil
}

func (s *MemoryStore) GetOne(ctx context.Context, collection string, q Query, sortBy Sort) (Document, error) {
	docs, err := s.Query(ctx, collection, q, sortBy, 1)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query, sortBy Sort, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Document
	byUUID := s.documents[collection]
	if q.UUID != nil {
		candidates = append(candidates, byUUID[*q.UUID]...)
	} else {
		for _, docs := range byUUID {
			candidates = append(candidates, docs...)
		}
	}

	filtered := make([]Document, 0, len(candidates))
	for _, doc := range candidates {
		if q.Matches(doc) {
			filtered = append(filtered, doc)
		}
	}

	sortDocuments(filtered, sortBy)

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (s *MemoryStore) EnsureIndex(ctx context.Context, collection, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.indexed[collection]
	if !ok {
		fields = map[string]bool{}
		s.indexed[collection] = fields
	}
	fields[field] = true
	return nil
}

func sortDocuments(docs []Document, sortBy Sort) {
	if sortBy.Field == "" {
		return
	}
	less := func(i, j int) bool {
		switch sortBy.Field {
		case "index":
			return docs[i].Index < docs[j].Index
		case "completed_at":
			return docs[i].CompletedAt.Before(docs[j].CompletedAt)
		default:
			return docs[i].UUID.String() < docs[j].UUID.String()
		}
	}
	if sortBy.Desc {
		sort.SliceStable(docs, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(docs, less)
}
