package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/orgsync/internal/model"
)

// Dept is a mirrored department row. Cloud ids are empty until the
// department has been created on or bound to the cloud.
type Dept struct {
	DeptID       string `json:"dept_id"`
	DeptPID      string `json:"dept_pid"`
	CloudDeptID  string `json:"cloud_dept_id,omitempty"`
	CloudDeptPID string `json:"cloud_dept_pid,omitempty"`
	Name         string `json:"name"`
	Order        *int   `json:"order,omitempty"`
	Status       string `json:"status,omitempty"`
}

const deptColumns = `dept_id, dept_pid, cloud_dept_id, cloud_dept_pid, name, dept_order, status`

// ReplaceDepts swaps the source department snapshot. Rows absent from depts
// are removed; cloud ids already bound to surviving rows are kept.
func (s *Store) ReplaceDepts(ctx context.Context, depts []model.SourceDept) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TEMP TABLE IF NOT EXISTS keep_depts (dept_id TEXT PRIMARY KEY)`); err != nil {
			return fmt.Errorf("create keep set: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM keep_depts`); err != nil {
			return fmt.Errorf("reset keep set: %w", err)
		}

		for _, d := range depts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO depts (dept_id, dept_pid, name, dept_order, status)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(dept_id) DO UPDATE SET
					dept_pid = excluded.dept_pid,
					name = excluded.name,
					dept_order = excluded.dept_order,
					status = excluded.status
			`, d.DeptID, d.DeptPID, d.Name, nullableInt(d.Order), d.Status)
			if err != nil {
				return fmt.Errorf("upsert dept %s: %w", d.DeptID, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO keep_depts (dept_id) VALUES (?)`, d.DeptID); err != nil {
				return fmt.Errorf("mark dept %s: %w", d.DeptID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM depts WHERE dept_id NOT IN (SELECT dept_id FROM keep_depts)`); err != nil {
			return fmt.Errorf("prune depts: %w", err)
		}
		return nil
	})
}

// AddDept records a department mapping, typically right after the cloud
// department was created.
func (s *Store) AddDept(ctx context.Context, d Dept) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO depts (`+deptColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dept_id) DO UPDATE SET
				dept_pid = excluded.dept_pid,
				cloud_dept_id = excluded.cloud_dept_id,
				cloud_dept_pid = excluded.cloud_dept_pid,
				name = excluded.name
		`, d.DeptID, d.DeptPID, d.CloudDeptID, d.CloudDeptPID, d.Name, nullableInt(d.Order), d.Status)
		if err != nil {
			return fmt.Errorf("add dept %s: %w", d.DeptID, err)
		}
		return nil
	})
}

// DeleteDept removes a department row. Deleting an unknown id is not an error.
func (s *Store) DeleteDept(ctx context.Context, deptID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM depts WHERE dept_id = ?`, deptID); err != nil {
			return fmt.Errorf("delete dept %s: %w", deptID, err)
		}
		return nil
	})
}

// InitDeptsFromCloud binds cloud ids from a cloud department tree whose
// nodes carry their source id in DeptID. Only departments already in the
// mirror are updated; the mirror keeps holding the source snapshot alone.
func (s *Store) InitDeptsFromCloud(ctx context.Context, root *model.DeptNode) error {
	if root == nil {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stack := append([]*model.DeptNode(nil), root.Children...)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack = append(stack, n.Children...)

			if n.DeptID == "" {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE depts SET cloud_dept_id = ?, cloud_dept_pid = ? WHERE dept_id = ?`,
				n.CloudDeptID, n.CloudDeptPID, n.DeptID)
			if err != nil {
				return fmt.Errorf("bind dept %s: %w", n.DeptID, err)
			}
		}
		return nil
	})
}

// ReadDept retrieves a department by its source id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadDept(ctx context.Context, deptID string) (Dept, error) {
	depts, err := s.queryDepts(ctx, `SELECT `+deptColumns+` FROM depts WHERE dept_id = ?`, deptID)
	if err != nil {
		return Dept{}, err
	}
	if len(depts) == 0 {
		return Dept{}, sql.ErrNoRows
	}
	return depts[0], nil
}

// ReadChildDepts returns the direct children of a source department.
func (s *Store) ReadChildDepts(ctx context.Context, deptPID string) ([]Dept, error) {
	return s.queryDepts(ctx, `
		SELECT `+deptColumns+` FROM depts
		WHERE dept_pid = ?
		ORDER BY COALESCE(dept_order, 0) ASC, dept_id ASC
	`, deptPID)
}

// ReadAllDepts returns every mirrored department.
func (s *Store) ReadAllDepts(ctx context.Context) ([]Dept, error) {
	return s.queryDepts(ctx, `SELECT `+deptColumns+` FROM depts ORDER BY dept_id ASC`)
}

func (s *Store) queryDepts(ctx context.Context, query string, args ...any) ([]Dept, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query depts: %w", err)
	}
	defer rows.Close()

	depts := []Dept{}
	for rows.Next() {
		var d Dept
		var order sql.NullInt64
		if err := rows.Scan(&d.DeptID, &d.DeptPID, &d.CloudDeptID, &d.CloudDeptPID, &d.Name, &order, &d.Status); err != nil {
			return nil, fmt.Errorf("scan dept: %w", err)
		}
		if order.Valid {
			v := int(order.Int64)
			d.Order = &v
		}
		depts = append(depts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate depts: %w", err)
	}
	return depts, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
