package tasks

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/devenv-go/devenv/internal/direrr"
	_ "github.com/mattn/go-sqlite3"
)

// CapabilityCache remembers which task names each external provider
// executable advertises, keyed by the executable's path and mtime, so a
// running provider is not asked to list its capabilities again when
// nothing about its executable has changed since the last run. This is a
// smaller, read-mostly sibling of the content-hash Cache in cache.go,
// kept on the teacher's cgo-based sqlite driver (mattn/go-sqlite3) since
// it never touches the minimal-build-container cache path modernc's
// pure-Go driver was chosen for.
type CapabilityCache struct {
	db *sql.DB
}

// OpenCapabilityCache opens (creating if necessary) the capability
// database at path.
func OpenCapabilityCache(path string) (*CapabilityCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, direrr.Cache("failed to create capability cache directory", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, direrr.Cache("failed to open capability cache", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS capabilities (
		executable TEXT PRIMARY KEY,
		mod_time   INTEGER NOT NULL,
		tasks      TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, direrr.Cache("failed to initialize capability cache schema", err)
	}
	return &CapabilityCache{db: db}, nil
}

// Get returns the cached task names for executable if the cache entry's
// recorded mtime still matches modTime.
func (c *CapabilityCache) Get(executable string, modTime int64) ([]string, bool) {
	var storedMod int64
	var tasksJSON string
	err := c.db.QueryRow(`SELECT mod_time, tasks FROM capabilities WHERE executable = ?`, executable).
		Scan(&storedMod, &tasksJSON)
	if err != nil || storedMod != modTime {
		return nil, false
	}
	var names []string
	if err := json.Unmarshal([]byte(tasksJSON), &names); err != nil {
		return nil, false
	}
	return names, true
}

// Put records the task names executable advertised as of modTime.
func (c *CapabilityCache) Put(executable string, modTime int64, taskNames []string) error {
	data, err := json.Marshal(taskNames)
	if err != nil {
		return direrr.Cache("failed to encode provider capabilities", err)
	}
	_, err = c.db.Exec(`INSERT INTO capabilities (executable, mod_time, tasks) VALUES (?, ?, ?)
		ON CONFLICT(executable) DO UPDATE SET mod_time = excluded.mod_time, tasks = excluded.tasks`,
		executable, modTime, string(data))
	if err != nil {
		return direrr.Cache("failed to persist provider capabilities", err)
	}
	return nil
}

func (c *CapabilityCache) Close() error {
	return c.db.Close()
}
