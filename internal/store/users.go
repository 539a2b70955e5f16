package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/orgsync/internal/model"
)

const userColumns = `id, cloud_id, "order", name, phone, email, title, employee_id, employment_type, status`

// ReplaceAllUsers swaps the roster for a new full snapshot.
//
// users and user_depts are cleared and rewritten in one transaction. Cloud
// ids already recorded for a user id survive the swap.
func (s *Store) ReplaceAllUsers(ctx context.Context, users []model.SourceUser) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cloudIDs, err := readCloudIDs(ctx, tx)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_depts`); err != nil {
			return fmt.Errorf("clear user_depts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
			return fmt.Errorf("clear users: %w", err)
		}

		for _, u := range users {
			if err := insertUser(ctx, tx, u, cloudIDs[u.ID]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertUser writes a single user and replaces its memberships.
func (s *Store) UpsertUser(ctx context.Context, u model.SourceUser) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES (?, '', ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				"order" = excluded."order",
				name = excluded.name,
				phone = excluded.phone,
				email = excluded.email,
				title = excluded.title,
				employee_id = excluded.employee_id,
				employment_type = excluded.employment_type,
				status = excluded.status
		`, u.ID, u.Order, u.Name, u.Phone, u.Email, u.Title, u.EmployeeID, u.EmploymentType, u.Status)
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", u.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_depts WHERE user_id = ?`, u.ID); err != nil {
			return fmt.Errorf("clear memberships of %s: %w", u.ID, err)
		}
		return insertMemberships(ctx, tx, u)
	})
}

// DeleteUser removes a user and its memberships. Deleting an unknown id is
// not an error.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_depts WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete memberships of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete user %s: %w", id, err)
		}
		return nil
	})
}

// SetUserCloudID records the cloud account bound to a user.
func (s *Store) SetUserCloudID(ctx context.Context, id, cloudID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET cloud_id = ? WHERE id = ?`, cloudID, id); err != nil {
		return fmt.Errorf("set cloud id of %s: %w", id, err)
	}
	return nil
}

// ReadAllUsers returns the roster ordered by "order" then id, each user with
// its memberships. Returns an empty slice (not nil) when there are none.
func (s *Store) ReadAllUsers(ctx context.Context) ([]model.SourceUser, error) {
	users, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY "order" ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	if err := s.attachMemberships(ctx, users, `SELECT user_id, dept_id, cloud_dept_id, dept_name FROM user_depts ORDER BY user_id, rowid`); err != nil {
		return nil, err
	}
	return users, nil
}

// ReadUser retrieves a single user by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadUser(ctx context.Context, id string) (model.SourceUser, error) {
	users, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return model.SourceUser{}, err
	}
	if len(users) == 0 {
		return model.SourceUser{}, sql.ErrNoRows
	}
	err = s.attachMemberships(ctx, users, `SELECT user_id, dept_id, cloud_dept_id, dept_name FROM user_depts WHERE user_id = ? ORDER BY rowid`, id)
	if err != nil {
		return model.SourceUser{}, err
	}
	return users[0], nil
}

// SearchUsersByName returns every user whose name equals name, with their
// memberships.
func (s *Store) SearchUsersByName(ctx context.Context, name string) ([]model.SourceUser, error) {
	users, err := s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE name = ? ORDER BY id`, name)
	if err != nil {
		return nil, err
	}
	err = s.attachMemberships(ctx, users, `
		SELECT user_id, dept_id, cloud_dept_id, dept_name FROM user_depts
		WHERE user_id IN (SELECT id FROM users WHERE name = ?)
		ORDER BY user_id, rowid
	`, name)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ReadUsersInDept returns the users holding a membership in the source
// department deptID, with all of their memberships.
func (s *Store) ReadUsersInDept(ctx context.Context, deptID string) ([]model.SourceUser, error) {
	users, err := s.queryUsers(ctx, `
		SELECT `+prefixed("u.", userColumns)+`
		FROM users u
		WHERE u.id IN (SELECT user_id FROM user_depts WHERE dept_id = ?)
		ORDER BY u."order" ASC, u.id ASC
	`, deptID)
	if err != nil {
		return nil, err
	}
	err = s.attachMemberships(ctx, users, `
		SELECT user_id, dept_id, cloud_dept_id, dept_name FROM user_depts
		WHERE user_id IN (SELECT user_id FROM user_depts WHERE dept_id = ?)
		ORDER BY user_id, rowid
	`, deptID)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]model.SourceUser, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []model.SourceUser{}
	for rows.Next() {
		var u model.SourceUser
		var cloudID string
		if err := rows.Scan(&u.ID, &cloudID, &u.Order, &u.Name, &u.Phone, &u.Email,
			&u.Title, &u.EmployeeID, &u.EmploymentType, &u.Status); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) attachMemberships(ctx context.Context, users []model.SourceUser, query string, args ...any) error {
	if len(users) == 0 {
		return nil
	}
	index := make(map[string]int, len(users))
	for i, u := range users {
		index[u.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var d model.DeptRef
		if err := rows.Scan(&userID, &d.ThirdDeptID, &d.CloudDeptID, &d.Name); err != nil {
			return fmt.Errorf("scan membership: %w", err)
		}
		if i, ok := index[userID]; ok {
			users[i].Depts = append(users[i].Depts, d)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate memberships: %w", err)
	}
	return nil
}

func readCloudIDs(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, cloud_id FROM users WHERE cloud_id != ''`)
	if err != nil {
		return nil, fmt.Errorf("query cloud ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var id, cloudID string
		if err := rows.Scan(&id, &cloudID); err != nil {
			return nil, fmt.Errorf("scan cloud id: %w", err)
		}
		ids[id] = cloudID
	}
	return ids, rows.Err()
}

func insertUser(ctx context.Context, tx *sql.Tx, u model.SourceUser, cloudID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, cloudID, u.Order, u.Name, u.Phone, u.Email, u.Title, u.EmployeeID, u.EmploymentType, u.Status)
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	return insertMemberships(ctx, tx, u)
}

func insertMemberships(ctx context.Context, tx *sql.Tx, u model.SourceUser) error {
	for _, d := range u.Depts {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO user_depts (user_id, dept_id, cloud_dept_id, dept_name)
			VALUES (?, ?, ?, ?)
		`, u.ID, d.ThirdDeptID, d.CloudDeptID, d.Name)
		if err != nil {
			return fmt.Errorf("insert membership %s/%s: %w", u.ID, d.ThirdDeptID, err)
		}
	}
	return nil
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
