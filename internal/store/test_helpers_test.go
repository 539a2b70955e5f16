package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/orgsync/internal/model"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUser creates a source user belonging to the given departments.
func createTestUser(id, name string, deptIDs ...string) model.SourceUser {
	u := model.SourceUser{ID: id, Name: name, Status: "1"}
	for _, d := range deptIDs {
		u.Depts = append(u.Depts, model.DeptRef{ThirdDeptID: d, Name: "dept " + d})
	}
	return u
}
