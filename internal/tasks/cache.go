package tasks

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	_ "modernc.org/sqlite"

	"github.com/devenv-go/devenv/internal/direrr"
)

// Cache persists task outputs and exec_if_modified content hashes across
// runs, so a task whose declared inputs have not changed since its last
// successful run can be skipped (spec §4.6 "exec_if_modified").
type Cache struct {
	db *sql.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, direrr.Task("failed to open task cache", err)
	}
	c := &Cache{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_output (
			task_name TEXT PRIMARY KEY,
			output_json TEXT NOT NULL,
			command_hash TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_input_hash (
			task_name TEXT NOT NULL,
			path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			PRIMARY KEY (task_name, path)
		);
	`)
	if err != nil {
		return direrr.Task("failed to initialize task cache schema", err)
	}
	return nil
}

func (c *Cache) Close() error { return c.db.Close() }

// commandHash folds the task's own command string into the cache key so
// editing a task's command invalidates any exec_if_modified skip,
// matching the invariant that the command is itself part of what "not
// modified" means.
func commandHash(command string) string {
	sum := sha256.Sum256([]byte(command))
	return hex.EncodeToString(sum[:])
}

func contentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckModified reports whether any exec_if_modified path (or the
// task's command string) has changed since the last recorded run. A
// read error on a declared path or a missing cache row both count as
// "modified" so the task reruns rather than being silently skipped.
func (c *Cache) CheckModified(taskName, command string, paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	row := c.db.QueryRow(`SELECT command_hash FROM task_output WHERE task_name = ?`, taskName)
	var storedCmdHash string
	if err := row.Scan(&storedCmdHash); err != nil || storedCmdHash != commandHash(command) {
		return true
	}
	for _, path := range paths {
		hash, err := contentHash(path)
		if err != nil {
			return true
		}
		var stored string
		row := c.db.QueryRow(`SELECT content_hash FROM task_input_hash WHERE task_name = ? AND path = ?`, taskName, path)
		if err := row.Scan(&stored); err != nil || stored != hash {
			return true
		}
	}
	return false
}

// RecordRun snapshots the current content hashes of paths and the task's
// output after a successful execution.
func (c *Cache) RecordRun(taskName, command string, paths []string, output json.RawMessage) error {
	tx, err := c.db.Begin()
	if err != nil {
		return direrr.Task("failed to begin task cache transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO task_output (task_name, output_json, command_hash) VALUES (?, ?, ?)
		ON CONFLICT(task_name) DO UPDATE SET output_json = excluded.output_json, command_hash = excluded.command_hash
	`, taskName, string(output), commandHash(command)); err != nil {
		return direrr.Task("failed to persist task output", err)
	}

	for _, path := range paths {
		hash, err := contentHash(path)
		if err != nil {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO task_input_hash (task_name, path, content_hash) VALUES (?, ?, ?)
			ON CONFLICT(task_name, path) DO UPDATE SET content_hash = excluded.content_hash
		`, taskName, path, hash); err != nil {
			return direrr.Task("failed to persist task input hash", err)
		}
	}
	return tx.Commit()
}

// GetOutput returns the last recorded output for a task, if any.
func (c *Cache) GetOutput(taskName string) (json.RawMessage, bool) {
	row := c.db.QueryRow(`SELECT output_json FROM task_output WHERE task_name = ?`, taskName)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return nil, false
	}
	return json.RawMessage(raw), true
}
