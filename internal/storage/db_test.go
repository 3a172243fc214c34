package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concourse.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, table := range []string{"sessions", "thread_configs", "config_modules", "app_state", "local_constitutions", "secrets"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
	db.Close()

	// Reopening must not re-apply migrations.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var dirty int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE dirty = 1`).Scan(&dirty); err != nil {
		t.Fatalf("querying migration state: %v", err)
	}
	if dirty != 0 {
		t.Errorf("%d dirty migrations after reopen", dirty)
	}
}
