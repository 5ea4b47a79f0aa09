package evalcache

import (
	"database/sql"
	"fmt"

	"github.com/devenv-go/devenv/internal/logging"
)

// migration adds a column to an existing table when it is missing,
// tolerating databases created before the column existed.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists schema migrations applied on every Open, so a
// cache database created by an older binary still opens cleanly.
var pendingMigrations = []migration{
	{"eval_cache", "updated_at", "DATETIME DEFAULT CURRENT_TIMESTAMP"},
}

// RunMigrations applies any pending schema migrations idempotently.
func RunMigrations(db *sql.DB) error {
	log := logging.Get(logging.CategoryCache)
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			log.Warn("migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		log.Info("migration applied: %s.%s", m.Table, m.Column)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	return err == nil && count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
