package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/store"
)

// deptResolver maps source department ids to cloud ids for one user sync,
// creating missing cloud departments from the mirror on the way. It is not
// safe for concurrent use.
type deptResolver struct {
	s        *Service
	root     string
	resolved map[string]string
	pending  map[string]bool
}

func (s *Service) newResolver() *deptResolver {
	return &deptResolver{
		s:        s,
		resolved: make(map[string]string),
		pending:  make(map[string]bool),
	}
}

func (r *deptResolver) rootDept(ctx context.Context) (string, error) {
	if r.root != "" {
		return r.root, nil
	}
	d, err := r.s.cloud.RootDept(ctx)
	if err != nil {
		return "", err
	}
	r.root = d.DeptID
	return r.root, nil
}

// resolve returns the cloud id of the source department thirdID. The
// empty id and the configured root both resolve to the cloud root.
func (r *deptResolver) resolve(ctx context.Context, thirdID string) (string, error) {
	if thirdID == "" || thirdID == r.s.rootID() {
		return r.rootDept(ctx)
	}
	if id, ok := r.resolved[thirdID]; ok {
		return id, nil
	}
	if r.pending[thirdID] {
		return "", fmt.Errorf("dept %s: parent cycle in mirror", thirdID)
	}
	r.pending[thirdID] = true
	defer delete(r.pending, thirdID)

	d, err := r.s.cloud.DeptByExID(ctx, thirdID)
	if err == nil {
		r.resolved[thirdID] = d.DeptID
		return d.DeptID, nil
	}
	if !errors.Is(err, cloud.ErrNotFound) {
		return "", err
	}
	if r.s.cfg.NoAddDept {
		return "", fmt.Errorf("dept %s: not on cloud and department creation is disabled", thirdID)
	}

	row, err := r.s.store.ReadDept(ctx, thirdID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("dept %s: unknown to mirror", thirdID)
	}
	if err != nil {
		return "", err
	}

	parentID := row.DeptPID
	if parentID == row.DeptID {
		parentID = ""
	}
	pid, err := r.resolve(ctx, parentID)
	if err != nil {
		return "", fmt.Errorf("dept %s: %w", thirdID, err)
	}

	name, err := r.name(ctx, row)
	if err != nil {
		return "", err
	}
	id, err := r.s.createDept(ctx, cloud.NewDept{
		Name:     name,
		DeptPID:  pid,
		Order:    orderOf(row.Order),
		ExDeptID: row.DeptID,
	})
	if err != nil {
		return "", err
	}
	row.CloudDeptID = id
	row.CloudDeptPID = pid
	if err := r.s.store.AddDept(ctx, row); err != nil {
		r.s.logger.Warn("department mapping not recorded", zap.String("dept_id", row.DeptID), zap.Error(err))
	}
	r.s.logger.Info("department created for member",
		zap.String("dept_id", row.DeptID),
		zap.String("cloud_dept_id", id),
		zap.String("name", name),
	)
	r.resolved[thirdID] = id
	return id, nil
}

// name derives the cloud name from the mirrored siblings of row.
func (r *deptResolver) name(ctx context.Context, row store.Dept) (string, error) {
	siblings, err := r.s.store.ReadChildDepts(ctx, row.DeptPID)
	if err != nil {
		return "", fmt.Errorf("dept %s siblings: %w", row.DeptID, err)
	}
	parent := &model.DeptNode{DeptID: row.DeptPID}
	for _, sib := range siblings {
		parent.Children = append(parent.Children, &model.DeptNode{DeptID: sib.DeptID, Name: sib.Name})
	}
	return DeptName(parent, &model.DeptNode{DeptID: row.DeptID, Name: row.Name}, r.s.cfg.DeptNameStep), nil
}

func orderOf(order *int) int {
	if order == nil {
		return 0
	}
	return *order
}
