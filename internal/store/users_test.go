package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/roach88/orgsync/internal/model"
)

func TestReplaceAllUsers_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	users := []model.SourceUser{
		createTestUser("u2", "Bob", "d1"),
		createTestUser("u1", "Alice", "d1", "d2"),
	}
	if err := s.ReplaceAllUsers(ctx, users); err != nil {
		t.Fatalf("ReplaceAllUsers() failed: %v", err)
	}

	got, err := s.ReadAllUsers(ctx)
	if err != nil {
		t.Fatalf("ReadAllUsers() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d users, want 2", len(got))
	}
	if got[0].ID != "u1" || got[1].ID != "u2" {
		t.Errorf("users not ordered by id: %s, %s", got[0].ID, got[1].ID)
	}
	if len(got[0].Depts) != 2 {
		t.Errorf("u1 has %d memberships, want 2", len(got[0].Depts))
	}
}

func TestReplaceAllUsers_ReplacesPreviousSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAllUsers(ctx, []model.SourceUser{createTestUser("u1", "Alice", "d1")}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := s.ReplaceAllUsers(ctx, []model.SourceUser{createTestUser("u2", "Bob", "d2")}); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := s.ReadAllUsers(ctx)
	if err != nil {
		t.Fatalf("ReadAllUsers() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u2" {
		t.Fatalf("snapshot not replaced: %+v", got)
	}

	var memberships int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM user_depts`).Scan(&memberships); err != nil {
		t.Fatalf("count memberships: %v", err)
	}
	if memberships != 1 {
		t.Errorf("memberships = %d, want 1", memberships)
	}
}

func TestReplaceAllUsers_RollsBackOnFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAllUsers(ctx, []model.SourceUser{createTestUser("u1", "Alice", "d1")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Duplicate ids violate the primary key halfway through the insert.
	bad := []model.SourceUser{
		createTestUser("u2", "Bob"),
		createTestUser("u2", "Bob again"),
	}
	if err := s.ReplaceAllUsers(ctx, bad); err == nil {
		t.Fatal("expected error for duplicate ids, got nil")
	}

	got, err := s.ReadAllUsers(ctx)
	if err != nil {
		t.Fatalf("ReadAllUsers() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u1" || len(got[0].Depts) != 1 {
		t.Errorf("previous snapshot not preserved after rollback: %+v", got)
	}
}

func TestReplaceAllUsers_KeepsCloudIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAllUsers(ctx, []model.SourceUser{createTestUser("u1", "Alice")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SetUserCloudID(ctx, "u1", "cloud-1"); err != nil {
		t.Fatalf("SetUserCloudID: %v", err)
	}
	if err := s.ReplaceAllUsers(ctx, []model.SourceUser{createTestUser("u1", "Alice B")}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	var cloudID string
	if err := s.db.QueryRow(`SELECT cloud_id FROM users WHERE id = 'u1'`).Scan(&cloudID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if cloudID != "cloud-1" {
		t.Errorf("cloud_id = %q, want cloud-1", cloudID)
	}
}

func TestReadUser_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadUser(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("ReadUser() error = %v, want sql.ErrNoRows", err)
	}
}

func TestUpsertUser_ReplacesMemberships(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, createTestUser("u1", "Alice", "d1", "d2")); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertUser(ctx, createTestUser("u1", "Alice Smith", "d3")); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	u, err := s.ReadUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ReadUser() failed: %v", err)
	}
	if u.Name != "Alice Smith" {
		t.Errorf("name = %q, want Alice Smith", u.Name)
	}
	if len(u.Depts) != 1 || u.Depts[0].ThirdDeptID != "d3" {
		t.Errorf("memberships = %+v, want only d3", u.Depts)
	}
}

func TestDeleteUser(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, createTestUser("u1", "Alice", "d1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser() failed: %v", err)
	}
	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Errorf("second DeleteUser() should be a no-op: %v", err)
	}

	if _, err := s.ReadUser(ctx, "u1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("user still present: %v", err)
	}
}

func TestSearchUsersByName(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	users := []model.SourceUser{
		createTestUser("u1", "Alice", "d1", "d2"),
		createTestUser("u2", "Bob", "d1"),
		createTestUser("u3", "Alice"),
	}
	if err := s.ReplaceAllUsers(ctx, users); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.SearchUsersByName(ctx, "Alice")
	if err != nil {
		t.Fatalf("SearchUsersByName() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].ID != "u1" || len(got[0].Depts) != 2 {
		t.Errorf("got[0] = %s with %d depts, want u1 with 2", got[0].ID, len(got[0].Depts))
	}
	if len(got[1].Depts) != 0 {
		t.Errorf("got[1] has %d depts, want 0", len(got[1].Depts))
	}
}

func TestReadUsersInDept(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	users := []model.SourceUser{
		createTestUser("u1", "Alice", "d1", "d2"),
		createTestUser("u2", "Bob", "d2"),
		createTestUser("u3", "Carol", "d3"),
	}
	if err := s.ReplaceAllUsers(ctx, users); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := s.ReadUsersInDept(ctx, "d2")
	if err != nil {
		t.Fatalf("ReadUsersInDept() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d users, want 2", len(got))
	}
	if len(got[0].Depts) != 2 {
		t.Errorf("u1 memberships = %d, want all of them (2)", len(got[0].Depts))
	}
}
