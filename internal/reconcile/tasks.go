package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/orgtree"
)

// Sweep deletes staged users whose grace period elapsed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.stager.Sweep(ctx)
}

// TidyUnassigned puts accounts that belong to no department and carry no
// source id into the root department. Returns the number moved.
func (s *Service) TidyUnassigned(ctx context.Context) (int, error) {
	users, err := s.cloud.ListUsers(ctx, model.AllStatuses)
	if err != nil {
		return 0, fmt.Errorf("tidy unassigned: %w", err)
	}
	root, err := s.cloud.RootDept(ctx)
	if err != nil {
		return 0, fmt.Errorf("tidy unassigned: %w", err)
	}

	moved := 0
	for _, u := range users {
		if len(u.Depts) > 0 || u.ThirdUnionID != "" {
			continue
		}
		if err := s.cloud.AddUserToDept(ctx, u.CompanyUID, root.DeptID); err != nil {
			s.logger.Warn("unassigned user not moved", zap.String("company_uid", u.CompanyUID), zap.Error(err))
			continue
		}
		s.logger.Info("unassigned user moved to root", zap.String("company_uid", u.CompanyUID), zap.String("name", u.Name))
		moved++
	}
	return moved, nil
}

// ActivateUser makes sure the source user id has a cloud account.
//
// An existing account that never signed in is activated. Otherwise the
// account is created from the mirror record, with name overriding the
// mirrored name when set. Returns the company uid.
func (s *Service) ActivateUser(ctx context.Context, id, name string) (string, error) {
	existing, err := s.cloud.UsersByThirdIDs(ctx, []string{id}, model.AllStatuses)
	if err != nil {
		return "", fmt.Errorf("activate %s: %w", id, err)
	}
	if len(existing) > 0 {
		u := existing[0]
		if u.Status == model.StatusNotActive {
			if err := s.cloud.ActivateUsers(ctx, []string{u.CompanyUID}); err != nil {
				return "", fmt.Errorf("activate %s: %w", id, err)
			}
			s.logger.Info("account activated", zap.String("id", id), zap.String("company_uid", u.CompanyUID))
		}
		return u.CompanyUID, nil
	}

	u, err := s.store.ReadUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("activate %s: user not in mirror", id)
	}
	if err != nil {
		return "", fmt.Errorf("activate %s: %w", id, err)
	}
	if name != "" {
		u.Name = name
	}
	uid, err := s.addUser(ctx, s.newResolver(), u)
	if err != nil {
		return uid, fmt.Errorf("activate %s: %w", id, err)
	}
	s.hooks.AfterAdd(ctx, []model.SourceUser{u})
	return uid, nil
}

// SetUsersEnabled enables or disables the accounts bound to the given
// source ids. Ids without an account are skipped. Returns the number of
// accounts changed.
func (s *Service) SetUsersEnabled(ctx context.Context, ids []string, enabled bool) (int, error) {
	users, err := s.cloud.UsersByThirdIDs(ctx, ids, model.AllStatuses)
	if err != nil {
		return 0, fmt.Errorf("set enabled: %w", err)
	}
	uids := make([]string, 0, len(users))
	for _, u := range users {
		uids = append(uids, u.CompanyUID)
	}
	if len(uids) == 0 {
		return 0, nil
	}
	if enabled {
		err = s.cloud.EnableUsers(ctx, uids)
	} else {
		err = s.cloud.DisableUsers(ctx, uids)
	}
	if err != nil {
		return 0, fmt.Errorf("set enabled: %w", err)
	}
	s.logger.Info("accounts status changed", zap.Bool("enabled", enabled), zap.Int("count", len(uids)))
	return len(uids), nil
}

// CreateDeptGroups gives every department below the root a department
// group, created on behalf of operatorID. Departments that already have a
// group are left alone. Returns the number of groups created.
func (s *Service) CreateDeptGroups(ctx context.Context, operatorID string) (int, error) {
	root, err := s.cloud.RootDept(ctx)
	if err != nil {
		return 0, fmt.Errorf("create dept groups: %w", err)
	}
	all, err := s.cloud.ListChildDepts(ctx, root.DeptID, true)
	if err != nil {
		return 0, fmt.Errorf("create dept groups: %w", err)
	}
	tree := orgtree.BuildTree(root.DeptID, all,
		func(d model.CloudDept) (string, string) { return d.DeptID, d.DeptPID },
		cloudNode,
	)

	created := 0
	orgtree.Walk(tree, func(n *model.DeptNode) {
		if n.CloudDeptID == "" {
			return
		}
		groups, err := s.cloud.ListGroups(ctx, n.CloudDeptID)
		if err != nil {
			s.logger.Warn("department groups unreadable", zap.String("cloud_dept_id", n.CloudDeptID), zap.Error(err))
			return
		}
		if len(groups) > 0 {
			return
		}
		if _, err := s.cloud.CreateGroup(ctx, operatorID, n.CloudDeptID); err != nil {
			s.logger.Warn("department group not created", zap.String("cloud_dept_id", n.CloudDeptID), zap.Error(err))
			return
		}
		s.logger.Info("department group created", zap.String("cloud_dept_id", n.CloudDeptID), zap.String("name", n.Name))
		created++
	})
	return created, nil
}
