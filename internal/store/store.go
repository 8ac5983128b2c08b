// Package store persists the corpus index in SQLite so projects can be
// assembled without rescanning the corpus.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/events"
	"github.com/FocuswithJustin/apfingest/core/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	sgm_path    TEXT NOT NULL,
	apf_path    TEXT NOT NULL,
	text_length INTEGER NOT NULL,
	events      INTEGER NOT NULL,
	warnings    INTEGER NOT NULL,
	scanned_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS event_types (
	type_key TEXT PRIMARY KEY,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS event_documents (
	type_key TEXT NOT NULL REFERENCES event_types(type_key) ON DELETE CASCADE,
	doc_id   TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (type_key, doc_id)
);
`

// Document is the scan summary of one corpus document.
type Document struct {
	ID         string    `json:"id"`
	SGMPath    string    `json:"sgm_path"`
	APFPath    string    `json:"apf_path"`
	TextLength int       `json:"text_length"`
	Events     int       `json:"events"`
	Warnings   int       `json:"warnings"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Store is an open index database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewIO("create", filepath.Dir(path), err)
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create schema in %s", path)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing index database for reading. A missing
// database is reported as ErrNotFound.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("index database", path)
		}
		return nil, errors.NewIO("stat", path, err)
	}
	db, err := sqlite.OpenReadOnly(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveIndex replaces the stored index with idx and the document table with
// docs in one transaction, keeping key and document order. The None sentinel
// is not stored. Documents with a zero ScannedAt get the current time.
func (s *Store) SaveIndex(ctx context.Context, idx *events.Index, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin index transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"event_documents", "event_types", "documents"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}

	keyStmt, err := tx.PrepareContext(ctx, `INSERT INTO event_types (type_key, position) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer keyStmt.Close()
	docStmt, err := tx.PrepareContext(ctx, `INSERT INTO event_documents (type_key, doc_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer docStmt.Close()

	for i, key := range idx.Keys() {
		if key == events.None {
			continue
		}
		if _, err := keyStmt.ExecContext(ctx, key, i); err != nil {
			return errors.Wrapf(err, "insert event type %s", key)
		}
		for j, doc := range idx.Docs(key) {
			if _, err := docStmt.ExecContext(ctx, key, doc, j); err != nil {
				return errors.Wrapf(err, "insert %s document %s", key, doc)
			}
		}
	}

	rowStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, sgm_path, apf_path, text_length, events, warnings, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer rowStmt.Close()
	now := time.Now().UTC()
	for _, d := range docs {
		if d.ScannedAt.IsZero() {
			d.ScannedAt = now
		}
		_, err := rowStmt.ExecContext(ctx, d.ID, d.SGMPath, d.APFPath, d.TextLength, d.Events, d.Warnings, d.ScannedAt.Format(time.RFC3339))
		if err != nil {
			return errors.Wrapf(err, "save document %s", d.ID)
		}
	}
	return tx.Commit()
}

// LoadIndex reads the stored index. An empty database yields an index with
// only the None sentinel.
func (s *Store) LoadIndex(ctx context.Context) (*events.Index, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.type_key, d.doc_id
		FROM event_types t
		JOIN event_documents d ON d.type_key = t.type_key
		ORDER BY t.position, d.position`)
	if err != nil {
		return nil, errors.Wrap(err, "query index")
	}
	defer rows.Close()

	idx := events.NewIndex()
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, errors.Wrap(err, "scan index row")
		}
		idx.Record(key, doc)
	}
	return idx, rows.Err()
}

// Document returns the summary of one document.
func (s *Store) Document(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sgm_path, apf_path, text_length, events, warnings, scanned_at
		FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", id)
	}
	return d, err
}

// Documents returns every stored document ordered by id.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sgm_path, apf_path, text_length, events, warnings, scanned_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var scanned string
	if err := row.Scan(&d.ID, &d.SGMPath, &d.APFPath, &d.TextLength, &d.Events, &d.Warnings, &scanned); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, scanned)
	if err != nil {
		return nil, errors.Wrapf(err, "document %s scanned_at", d.ID)
	}
	d.ScannedAt = t
	return &d, nil
}
