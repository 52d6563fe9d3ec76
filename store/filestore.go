package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileStore is a DocStore backed by one JSON file per document, laid
// out as <root>/<collection>/<uuid>/<index>.json. It is intentionally
// simple (no compaction, no secondary indices beyond the in-memory
// scan) and exists primarily to exercise a durable backend that
// survives process restarts without pulling in a database.
type FileStore struct {
	root string

	mu sync.Mutex // serializes writes; reads are safe to interleave with os-level atomicity
}

// NewFileStore returns a FileStore rooted at dir. Connect creates dir
// if it does not exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) Connect(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *FileStore) Close(ctx context.Context) error { return nil }

func (s *FileStore) Put(ctx context.Context, collection string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, collection, doc.UUID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: creating %s: %w", dir, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("filestore: marshaling document: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", doc.Index))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("filestore: writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) GetOne(ctx context.Context, collection string, q Query, sortBy Sort) (Document, error) {
	docs, err := s.Query(ctx, collection, q, sortBy, 1)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func (s *FileStore) Query(ctx context.Context, collection string, q Query, sortBy Sort, limit int) ([]Document, error) {
	var uuids []uuid.UUID
	if q.UUID != nil {
		uuids = []uuid.UUID{*q.UUID}
	} else {
		entries, err := os.ReadDir(filepath.Join(s.root, collection))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("filestore: listing %s: %w", collection, err)
		}
		for _, e := range entries {
			if id, err := uuid.Parse(e.Name()); err == nil {
				uuids = append(uuids, id)
			}
		}
	}

	var matched []Document
	for _, id := range uuids {
		dir := filepath.Join(s.root, collection, id.String())
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("filestore: listing %s: %w", dir, err)
		}
		for _, e := range entries {
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("filestore: reading %s: %w", e.Name(), err)
			}
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("filestore: decoding %s: %w", e.Name(), err)
			}
			if q.Matches(doc) {
				matched = append(matched, doc)
			}
		}
	}

	sortDocuments(matched, sortBy)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *FileStore) EnsureIndex(ctx context.Context, collection, field string) error {
	// Directory layout already keys by uuid; nothing to build for any
	// field since every query re-scans the collection directory.
	return nil
}
