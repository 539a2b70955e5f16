package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/orgsync/internal/model"
)

const deptsPath = "/plus/v1/company/depts"

// RootDept returns the company root department. The result is memoized for
// the life of the client.
func (c *Client) RootDept(ctx context.Context) (model.CloudDept, error) {
	c.rootMu.Lock()
	defer c.rootMu.Unlock()
	if c.root != nil {
		return *c.root, nil
	}
	depts, err := c.ListChildDepts(ctx, "0", false)
	if err != nil {
		return model.CloudDept{}, fmt.Errorf("read root dept: %w", err)
	}
	if len(depts) == 0 {
		return model.CloudDept{}, errors.New("read root dept: company has no root department")
	}
	root := depts[0]
	c.root = &root
	return root, nil
}

// ListChildDepts lists the children of a department, all descendants when
// recursive is set.
func (c *Client) ListChildDepts(ctx context.Context, deptID string, recursive bool) ([]model.CloudDept, error) {
	q := url.Values{"recursive": {strconv.FormatBool(recursive)}}
	depts, err := listPaged[model.CloudDept](ctx, c, deptsPath+"/"+url.PathEscape(deptID)+"/children", q, "depts")
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", deptID, err)
	}
	return depts, nil
}

type deptsResponse struct {
	Depts []model.CloudDept `json:"depts"`
}

// DeptByExID finds the department bound to a source department id.
// Returns ErrNotFound when none is.
func (c *Client) DeptByExID(ctx context.Context, exDeptID string) (model.CloudDept, error) {
	var resp deptsResponse
	q := url.Values{"ex_dept_ids": {exDeptID}}
	if err := c.call(ctx, http.MethodGet, deptsPath+"/by-ex-dept-ids", q, nil, &resp); err != nil {
		return model.CloudDept{}, fmt.Errorf("dept by ex id %s: %w", exDeptID, err)
	}
	if len(resp.Depts) == 0 {
		return model.CloudDept{}, ErrNotFound
	}
	return resp.Depts[0], nil
}

// DeptsByIDs reads departments by cloud id.
func (c *Client) DeptsByIDs(ctx context.Context, ids []string) ([]model.CloudDept, error) {
	if len(ids) == 0 {
		return []model.CloudDept{}, nil
	}
	var resp deptsResponse
	q := url.Values{"dept_ids": {strings.Join(ids, ",")}}
	if err := c.call(ctx, http.MethodGet, "/plus/v1/batch/company/depts", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("depts by ids: %w", err)
	}
	if resp.Depts == nil {
		return []model.CloudDept{}, nil
	}
	return resp.Depts, nil
}

// NewDept is the payload of CreateDept.
type NewDept struct {
	Name     string `json:"name"`
	DeptPID  string `json:"dept_pid"`
	Order    int    `json:"order"`
	ExDeptID string `json:"ex_dept_id,omitempty"`
}

// CreateDept creates a department and returns its cloud id.
func (c *Client) CreateDept(ctx context.Context, d NewDept) (string, error) {
	var resp struct {
		DeptID string `json:"dept_id"`
	}
	if err := c.call(ctx, http.MethodPost, deptsPath, nil, d, &resp); err != nil {
		return "", fmt.Errorf("create dept %q: %w", d.Name, err)
	}
	return resp.DeptID, nil
}

// DeptPatch holds the fields to change on a department. Nil fields are
// left untouched.
type DeptPatch struct {
	Name     *string `json:"name,omitempty"`
	Order    *int    `json:"order,omitempty"`
	DeptPID  *string `json:"dept_pid,omitempty"`
	ExDeptID *string `json:"ex_dept_id,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p DeptPatch) Empty() bool {
	return p.Name == nil && p.Order == nil && p.DeptPID == nil && p.ExDeptID == nil
}

// UpdateDept applies a patch to a department.
func (c *Client) UpdateDept(ctx context.Context, deptID string, p DeptPatch) error {
	if err := c.call(ctx, http.MethodPut, deptsPath+"/"+url.PathEscape(deptID), nil, p, nil); err != nil {
		return fmt.Errorf("update dept %s: %w", deptID, err)
	}
	return nil
}

// DeleteDept removes an empty department.
func (c *Client) DeleteDept(ctx context.Context, deptID string) error {
	if err := c.call(ctx, http.MethodDelete, deptsPath+"/"+url.PathEscape(deptID), nil, nil, nil); err != nil {
		return fmt.Errorf("delete dept %s: %w", deptID, err)
	}
	return nil
}

// ListDeptUsers lists the direct members of a department in every status.
func (c *Client) ListDeptUsers(ctx context.Context, deptID string) ([]model.CloudUser, error) {
	q := url.Values{"status": {model.AllStatuses}}
	users, err := listPaged[model.CloudUser](ctx, c, deptUsersPath(deptID), q, "company_users")
	if err != nil {
		return nil, fmt.Errorf("list users of dept %s: %w", deptID, err)
	}
	return users, nil
}

func deptUsersPath(deptID string) string {
	return deptsPath + "/" + url.PathEscape(deptID) + "/company_users"
}
