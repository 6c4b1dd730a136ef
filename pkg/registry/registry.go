// Package registry keeps a catalog of trained control vectors in SQLite.
//
// The catalog stores metadata and the path of each vector file; the directions
// themselves live in the file. Vectors are unique per (model, name).
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// Entry is one catalog row.
type Entry struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Model       string          `json:"model"`
	Positive    string          `json:"positive,omitempty"`
	Negative    string          `json:"negative,omitempty"`
	LayerIDs    []model.LayerID `json:"layer_ids"`
	HiddenDim   int             `json:"hidden_dim"`
	Pairs       int             `json:"pairs"`
	Path        string          `json:"path"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   time.Time       `json:"created_at"`
}

// EntryFor describes v stored at path.
func EntryFor(v *vector.ControlVector, path string) Entry {
	meta := v.Meta()
	return Entry{
		ID:          meta.ID,
		Name:        meta.Name,
		Model:       meta.Model,
		Positive:    meta.Traits.Positive,
		Negative:    meta.Traits.Negative,
		LayerIDs:    v.LayerIDs(),
		HiddenDim:   v.HiddenDim(),
		Pairs:       meta.Pairs,
		Path:        path,
		Fingerprint: v.Fingerprint(),
		CreatedAt:   meta.CreatedAt,
	}
}

// Store is the SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to create catalog directory").
				WithContext("path", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap(err, "failed to open vector catalog").WithContext("path", path)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			model TEXT NOT NULL,
			positive TEXT,
			negative TEXT,
			layer_ids TEXT NOT NULL,
			hidden_dim INTEGER NOT NULL,
			pairs INTEGER NOT NULL,
			path TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(model, name)
		)`)
	if err != nil {
		db.Close()
		return nil, wrap(err, "failed to initialize vector catalog").WithContext("path", path)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts e, replacing any entry with the same model and name.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Name == "" || e.Model == "" {
		return perrors.Validation(perrors.ErrValidationRequired, "catalog entries need a name and a model")
	}
	layers, err := json.Marshal(e.LayerIDs)
	if err != nil {
		return perrors.InternalWrap(err, perrors.ErrInternal, "failed to encode layer ids")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "failed to begin catalog transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE model = ? AND name = ?", e.Model, e.Name); err != nil {
		return wrap(err, "failed to replace catalog entry")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vectors(id, name, model, positive, negative, layer_ids, hidden_dim, pairs, path, fingerprint, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, e.Model, e.Positive, e.Negative, string(layers), e.HiddenDim, e.Pairs,
		e.Path, e.Fingerprint, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wrap(err, "failed to insert catalog entry").WithContext("name", e.Name)
	}
	if err := tx.Commit(); err != nil {
		return wrap(err, "failed to commit catalog entry")
	}

	log.Printf("[registry] recorded %s/%s (%s)", e.Model, e.Name, e.ID)
	return nil
}

const selectColumns = `SELECT id, name, model, positive, negative, layer_ids, hidden_dim, pairs, path, fingerprint, created_at FROM vectors`

// Get returns the entry for model and name.
func (s *Store) Get(ctx context.Context, modelName, name string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE model = ? AND name = ?", modelName, name)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, perrors.IO(perrors.ErrVectorNotFound, "no vector with that name for this model").
			WithContext("model", modelName).
			WithContext("name", name)
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// List returns all entries for model ordered by name. An empty model lists
// every model's entries.
func (s *Store) List(ctx context.Context, modelName string) ([]Entry, error) {
	query := selectColumns + " ORDER BY model, name"
	args := []interface{}{}
	if modelName != "" {
		query = selectColumns + " WHERE model = ? ORDER BY name"
		args = append(args, modelName)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, "failed to list vectors")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "failed to list vectors")
	}
	return out, nil
}

// Delete removes the entry for model and name. The vector file is left alone.
func (s *Store) Delete(ctx context.Context, modelName, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE model = ? AND name = ?", modelName, name)
	if err != nil {
		return wrap(err, "failed to delete catalog entry")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.IO(perrors.ErrVectorNotFound, "no vector with that name for this model").
			WithContext("model", modelName).
			WithContext("name", name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                  Entry
		positive, negative sql.NullString
		layers, created    string
	)
	err := sc.Scan(&e.ID, &e.Name, &e.Model, &positive, &negative, &layers,
		&e.HiddenDim, &e.Pairs, &e.Path, &e.Fingerprint, &created)
	if err == sql.ErrNoRows {
		return Entry{}, err
	}
	if err != nil {
		return Entry{}, wrap(err, "failed to read catalog row")
	}
	e.Positive = positive.String
	e.Negative = negative.String
	if err := json.Unmarshal([]byte(layers), &e.LayerIDs); err != nil {
		return Entry{}, wrap(err, "catalog row has malformed layer ids").WithContext("id", e.ID)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, wrap(err, "catalog row has malformed timestamp").WithContext("id", e.ID)
	}
	return e, nil
}

func wrap(err error, msg string) *perrors.PalinorError {
	return perrors.IOWrap(err, perrors.ErrRegistryFailed, msg)
}
