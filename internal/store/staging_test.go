package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/roach88/orgsync/internal/model"
)

func TestStageDeletion_ListAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	stagedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := model.StagedDeletion{ID: "u1", CloudID: "c1", Name: "Alice", Classification: "teacher", StagedAt: stagedAt}
	if err := s.StageDeletion(ctx, rec); err != nil {
		t.Fatalf("StageDeletion: %v", err)
	}

	got, err := s.GetStaged(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStaged: %v", err)
	}
	if got != rec {
		t.Errorf("GetStaged = %+v, want %+v", got, rec)
	}

	list, err := s.ListStaged(ctx)
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListStaged returned %d rows, want 1", len(list))
	}
}

func TestStageDeletion_RestageKeepsOriginalTime(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.StageDeletion(ctx, model.StagedDeletion{ID: "u1", CloudID: "c1", StagedAt: first}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.StageDeletion(ctx, model.StagedDeletion{ID: "u1", CloudID: "c1", StagedAt: first.AddDate(0, 1, 0)}); err != nil {
		t.Fatalf("restage: %v", err)
	}

	got, err := s.GetStaged(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStaged: %v", err)
	}
	if !got.StagedAt.Equal(first) {
		t.Errorf("StagedAt = %v, want %v", got.StagedAt, first)
	}
}

func TestUnstage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.StageDeletion(ctx, model.StagedDeletion{ID: "u1", CloudID: "c1", StagedAt: time.Now()}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.Unstage(ctx, "u1"); err != nil {
		t.Fatalf("Unstage: %v", err)
	}
	if _, err := s.GetStaged(ctx, "u1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetStaged after Unstage: err = %v, want sql.ErrNoRows", err)
	}
}

func TestArchiveDeletion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, createTestUser("u1", "Alice", "d1", "d2")); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	rec := model.StagedDeletion{ID: "u1", CloudID: "c1", Name: "Alice", StagedAt: time.Unix(1000, 0).UTC()}
	if err := s.StageDeletion(ctx, rec); err != nil {
		t.Fatalf("stage: %v", err)
	}

	deletedAt := time.Unix(5000, 0).UTC()
	if err := s.ArchiveDeletion(ctx, rec, deletedAt); err != nil {
		t.Fatalf("ArchiveDeletion: %v", err)
	}

	if _, err := s.GetStaged(ctx, "u1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("staging row still present: %v", err)
	}

	var memberships int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM user_depts WHERE user_id = 'u1'`).Scan(&memberships); err != nil {
		t.Fatalf("count: %v", err)
	}
	if memberships != 0 {
		t.Errorf("memberships = %d, want 0", memberships)
	}

	deleted, err := s.ListDeleted(ctx)
	if err != nil {
		t.Fatalf("ListDeleted: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != "u1" || deleted[0].CloudID != "c1" || !deleted[0].DeletedAt.Equal(deletedAt) {
		t.Errorf("deleted log = %+v", deleted)
	}
}
