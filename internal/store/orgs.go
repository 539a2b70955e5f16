package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/orgsync/internal/model"
)

// ReplaceOrgs swaps the flat organisation snapshot.
func (s *Store) ReplaceOrgs(ctx context.Context, orgs []model.SourceOrg) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM orgs`); err != nil {
			return fmt.Errorf("clear orgs: %w", err)
		}
		for _, o := range orgs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO orgs (org_id, org_name, parent_unit_id, "order", status)
				VALUES (?, ?, ?, ?, ?)
			`, o.OrgID, o.OrgName, o.ParentUnitID, nullableInt(o.Order), o.Status)
			if err != nil {
				return fmt.Errorf("insert org %s: %w", o.OrgID, err)
			}
		}
		return nil
	})
}

// ReadOrgs returns the flat organisation snapshot ordered by org id.
func (s *Store) ReadOrgs(ctx context.Context) ([]model.SourceOrg, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, org_name, parent_unit_id, "order", status
		FROM orgs ORDER BY org_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query orgs: %w", err)
	}
	defer rows.Close()

	orgs := []model.SourceOrg{}
	for rows.Next() {
		var o model.SourceOrg
		var order sql.NullInt64
		if err := rows.Scan(&o.OrgID, &o.OrgName, &o.ParentUnitID, &order, &o.Status); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		if order.Valid {
			v := int(order.Int64)
			o.Order = &v
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orgs: %w", err)
	}
	return orgs, nil
}
