package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"users", "user_depts", "depts", "orgs", "tobe_deleted", "deleted"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, want := range checks {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

func TestMigrations_SetUserVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_user_depts_dept'",
	).Scan(&name)
	if err != nil {
		t.Errorf("index idx_user_depts_dept missing: %v", err)
	}
}

func TestTrigger_TouchesMtimeOnUpdate(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO users (id, name) VALUES ('u1', 'Alice')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE users SET mtime = '2000-01-01 00:00:00' WHERE id = 'u1'`); err != nil {
		t.Fatalf("update: %v", err)
	}

	var mtime string
	if err := s.db.QueryRow(`SELECT mtime FROM users WHERE id = 'u1'`).Scan(&mtime); err != nil {
		t.Fatalf("select: %v", err)
	}
	if mtime == "2000-01-01 00:00:00" || mtime == "2000-01-01T00:00:00Z" {
		t.Errorf("mtime was not touched by trigger: %s", mtime)
	}
}
