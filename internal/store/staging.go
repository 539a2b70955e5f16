package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/orgsync/internal/model"
)

// StageDeletion inserts or refreshes a staging row for a user that left
// the source.
func (s *Store) StageDeletion(ctx context.Context, rec model.StagedDeletion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tobe_deleted (id, cloud_id, name, classification, staged_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				cloud_id = excluded.cloud_id,
				name = excluded.name,
				classification = excluded.classification
		`, rec.ID, rec.CloudID, rec.Name, rec.Classification, rec.StagedAt.Unix())
		if err != nil {
			return fmt.Errorf("stage deletion of %s: %w", rec.ID, err)
		}
		return nil
	})
}

// ListStaged returns every staged deletion, oldest first.
func (s *Store) ListStaged(ctx context.Context) ([]model.StagedDeletion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cloud_id, name, classification, staged_at
		FROM tobe_deleted
		ORDER BY staged_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query staged deletions: %w", err)
	}
	defer rows.Close()

	recs := []model.StagedDeletion{}
	for rows.Next() {
		rec, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staged deletions: %w", err)
	}
	return recs, nil
}

// GetStaged retrieves one staged deletion.
// Returns sql.ErrNoRows if not found.
func (s *Store) GetStaged(ctx context.Context, id string) (model.StagedDeletion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cloud_id, name, classification, staged_at
		FROM tobe_deleted WHERE id = ?
	`, id)
	return scanStaged(row)
}

// Unstage removes a staging row. Unknown ids are ignored.
func (s *Store) Unstage(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tobe_deleted WHERE id = ?`, id); err != nil {
			return fmt.Errorf("unstage %s: %w", id, err)
		}
		return nil
	})
}

// ArchiveDeletion promotes a staged user to the permanent deletion log.
// The staging row and the user's memberships are removed in the same
// transaction as the insert into deleted.
func (s *Store) ArchiveDeletion(ctx context.Context, rec model.StagedDeletion, deletedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tobe_deleted WHERE id = ?`, rec.ID); err != nil {
			return fmt.Errorf("remove staging row %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_depts WHERE user_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("remove memberships of %s: %w", rec.ID, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO deleted (id, cloud_id, name, classification, deleted_at)
			VALUES (?, ?, ?, ?, ?)
		`, rec.ID, rec.CloudID, rec.Name, rec.Classification, deletedAt.Unix())
		if err != nil {
			return fmt.Errorf("archive %s: %w", rec.ID, err)
		}
		return nil
	})
}

// ListDeleted returns the permanent deletion log, most recent first.
func (s *Store) ListDeleted(ctx context.Context) ([]model.DeletedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cloud_id, name, classification, deleted_at
		FROM deleted
		ORDER BY deleted_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query deleted users: %w", err)
	}
	defer rows.Close()

	recs := []model.DeletedUser{}
	for rows.Next() {
		var rec model.DeletedUser
		var deletedAt int64
		if err := rows.Scan(&rec.ID, &rec.CloudID, &rec.Name, &rec.Classification, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan deleted user: %w", err)
		}
		rec.DeletedAt = time.Unix(deletedAt, 0).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted users: %w", err)
	}
	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaged(row rowScanner) (model.StagedDeletion, error) {
	var rec model.StagedDeletion
	var stagedAt int64
	if err := row.Scan(&rec.ID, &rec.CloudID, &rec.Name, &rec.Classification, &stagedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.StagedDeletion{}, err
		}
		return model.StagedDeletion{}, fmt.Errorf("scan staged deletion: %w", err)
	}
	rec.StagedAt = time.Unix(stagedAt, 0).UTC()
	return rec, nil
}
