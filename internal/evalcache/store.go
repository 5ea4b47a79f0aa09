// Package evalcache implements the evaluation cache store: a durable
// key→record mapping with file-input dependency tracking and resource
// side-effect replay (spec §3 "Evaluation cache record", §4.2).
package evalcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devenv-go/devenv/internal/direrr"
	"github.com/devenv-go/devenv/internal/logging"
	_ "modernc.org/sqlite"
)

// FileInput is one recorded file dependency of a cached evaluation.
type FileInput struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Mtime       int64  `json:"mtime"`
}

// ResourceAllocation is a single replayable side effect performed during
// evaluation, currently only port allocations.
type ResourceAllocation struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
}

// Record is the value stored for one cache key.
type Record struct {
	EvalID      string                `json:"eval_id"`
	JSONOutput  string                `json:"json_output"`
	FileInputs  []FileInput           `json:"file_inputs"`
	EnvInputs   map[string]string     `json:"env_inputs"`
	Resources   []ResourceAllocation  `json:"resource_allocations"`
}

// Store is the sqlite-backed durable cache. A single *sql.DB is shared;
// writes are serialised by the database engine itself (spec §5).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cache database at path, applying
// WAL mode and a busy timeout so concurrent readers don't starve a writer.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, direrr.Cache("failed to create cache directory", err)
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, direrr.Cache("failed to open cache database", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	logging.Get(logging.CategoryCache).Debug("initializing evaluation cache schema")
	const schema = `
CREATE TABLE IF NOT EXISTS eval_cache (
	cache_key   TEXT PRIMARY KEY,
	eval_id     TEXT NOT NULL,
	json_output TEXT NOT NULL,
	file_inputs TEXT NOT NULL,
	env_inputs  TEXT NOT NULL,
	resources   TEXT NOT NULL,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := s.db.Exec(schema); err != nil {
		return direrr.Cache("failed to create eval_cache table", err)
	}
	return RunMigrations(s.db)
}

// Get loads a record by cache key; ok is false on a miss. I/O errors are
// downgraded to a miss rather than propagated, per spec §4.2 ("Cache I/O
// errors downgrade to a miss rather than aborting").
func (s *Store) Get(key string) (*Record, bool) {
	row := s.db.QueryRow(`SELECT eval_id, json_output, file_inputs, env_inputs, resources FROM eval_cache WHERE cache_key = ?`, key)

	var rec Record
	var fileInputsJSON, envInputsJSON, resourcesJSON string
	if err := row.Scan(&rec.EvalID, &rec.JSONOutput, &fileInputsJSON, &envInputsJSON, &resourcesJSON); err != nil {
		if err != sql.ErrNoRows {
			logging.Get(logging.CategoryCache).Warn("cache read error for %s: %v", key, err)
		}
		return nil, false
	}
	if err := json.Unmarshal([]byte(fileInputsJSON), &rec.FileInputs); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(envInputsJSON), &rec.EnvInputs); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(resourcesJSON), &rec.Resources); err != nil {
		return nil, false
	}
	return &rec, true
}

// Put persists (last-writer-wins) a record for the given cache key.
func (s *Store) Put(key string, rec *Record) error {
	fileInputsJSON, _ := json.Marshal(rec.FileInputs)
	envInputsJSON, _ := json.Marshal(rec.EnvInputs)
	resourcesJSON, _ := json.Marshal(rec.Resources)

	_, err := s.db.Exec(`
INSERT INTO eval_cache (cache_key, eval_id, json_output, file_inputs, env_inputs, resources, updated_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(cache_key) DO UPDATE SET
	eval_id=excluded.eval_id, json_output=excluded.json_output, file_inputs=excluded.file_inputs,
	env_inputs=excluded.env_inputs, resources=excluded.resources, updated_at=CURRENT_TIMESTAMP`,
		key, rec.EvalID, rec.JSONOutput, string(fileInputsJSON), string(envInputsJSON), string(resourcesJSON))
	if err != nil {
		return direrr.Cache("failed to write cache record", err)
	}
	return nil
}

// Discard removes a record, used when freshness validation or resource
// replay fails and the entry must be recomputed.
func (s *Store) Discard(key string) error {
	_, err := s.db.Exec(`DELETE FROM eval_cache WHERE cache_key = ?`, key)
	if err != nil {
		return direrr.Cache("failed to discard cache record", err)
	}
	return nil
}
