package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteConfig mirrors the pragma set a single-writer embedded SQLite
// connection needs: WAL so readers never block the writer, a busy
// timeout instead of immediate SQLITE_BUSY errors, and foreign keys on
// for referential sanity even though this store has none today.
type SQLiteConfig struct {
	Path           string
	WALMode        bool
	ForeignKeys    bool
	BusyTimeoutMS  int
}

// DefaultSQLiteConfig returns the pragma set this store is tested
// against.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{Path: path, WALMode: true, ForeignKeys: true, BusyTimeoutMS: 5000}
}

// SQLiteStore is a DocStore backed by modernc.org/sqlite, a pure-Go
// driver that needs no cgo toolchain. Every document collection lives
// in the same table, discriminated by a collection column, since the
// document shape is identical across collections in this store.
type SQLiteStore struct {
	cfg SQLiteConfig
	db  *sql.DB
}

// NewSQLiteStore returns a store that will open cfg.Path on Connect.
func NewSQLiteStore(cfg SQLiteConfig) *SQLiteStore {
	return &SQLiteStore{cfg: cfg}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.cfg.Path)
	if err != nil {
		return fmt.Errorf("sqlitestore: opening %s: %w", s.cfg.Path, err)
	}
	// A single writer connection avoids SQLITE_BUSY under WAL for the
	// one-job-at-a-time execution model this store serves.
	db.SetMaxOpenConns(1)

	pragmas := []string{}
	if s.cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
	}
	if s.cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON;")
	}
	if s.cfg.BusyTimeoutMS > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d;", s.cfg.BusyTimeoutMS))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return fmt.Errorf("sqlitestore: applying %q: %w", p, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection   TEXT NOT NULL,
	uuid         TEXT NOT NULL,
	idx          INTEGER NOT NULL,
	output       TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	metadata     TEXT,
	hosts        TEXT,
	name         TEXT,
	stored_data  TEXT,
	PRIMARY KEY (collection, uuid, idx)
);
CREATE INDEX IF NOT EXISTS idx_documents_uuid ON documents(collection, uuid);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("sqlitestore: creating schema: %w", err)
	}
	s.db = db
	return nil
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, collection string, doc Document) error {
	hostsJSON, err := json.Marshal(doc.Hosts)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshaling hosts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (collection, uuid, idx, output, completed_at, metadata, hosts, name, stored_data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (collection, uuid, idx) DO UPDATE SET
	output=excluded.output, completed_at=excluded.completed_at, metadata=excluded.metadata,
	hosts=excluded.hosts, name=excluded.name, stored_data=excluded.stored_data
`, collection, doc.UUID.String(), doc.Index, string(doc.Output), doc.CompletedAt.Format(timeLayout),
		nullableString(doc.Metadata), string(hostsJSON), doc.Name, nullableString(doc.StoredData))
	if err != nil {
		return fmt.Errorf("sqlitestore: inserting document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOne(ctx context.Context, collection string, q Query, sortBy Sort) (Document, error) {
	docs, err := s.Query(ctx, collection, q, sortBy, 1)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, ErrNotFound
	}
	return docs[0], nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query, sortBy Sort, limit int) ([]Document, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	if q.UUID != nil {
		clauses = append(clauses, "uuid = ?")
		args = append(args, q.UUID.String())
	}
	if q.Index != nil {
		clauses = append(clauses, "idx = ?")
		args = append(args, *q.Index)
	}

	query := "SELECT uuid, idx, output, completed_at, metadata, hosts, name, stored_data FROM documents WHERE " +
		strings.Join(clauses, " AND ")
	query += " ORDER BY idx " + sqlDirection(sortBy)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: querying: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			idStr, output, completedAt, hostsJSON string
			metadata, storedData                  sql.NullString
			name                                   string
			idx                                    int
		)
		if err := rows.Scan(&idStr, &idx, &output, &completedAt, &metadata, &hostsJSON, &name, &storedData); err != nil {
			return nil, fmt.Errorf("sqlitestore: scanning row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parsing uuid: %w", err)
		}
		completed, err := parseTime(completedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parsing completed_at: %w", err)
		}
		var hosts []uuid.UUID
		if err := json.Unmarshal([]byte(hostsJSON), &hosts); err != nil {
			return nil, fmt.Errorf("sqlitestore: parsing hosts: %w", err)
		}
		docs = append(docs, Document{
			UUID:        id,
			Index:       idx,
			Output:      json.RawMessage(output),
			CompletedAt: completed,
			Metadata:    nullableRaw(metadata),
			Hosts:       hosts,
			Name:        name,
			StoredData:  nullableRaw(storedData),
		})
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) EnsureIndex(ctx context.Context, collection, field string) error {
	ident := "documents_" + collection + "_" + field
	column := field
	if field == "index" {
		column = "idx"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON documents(collection, %s)`, sanitizeIdent(ident), sanitizeIdent(column)))
	return err
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableString(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}

func sqlDirection(s Sort) string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// sanitizeIdent keeps EnsureIndex from building a SQL identifier out of
// untrusted characters; field/collection names in this module always
// come from static call sites, but there's no reason to trust that
// forever.
func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
