package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/orgsync/internal/model"
)

const (
	usersPath      = "/plus/v1/company/company_users"
	batchUsersPath = "/plus/v1/batch/company/company_users"
)

// User payload field names.
const (
	FieldName           = "name"
	FieldRoleID         = "role_id"
	FieldThirdUnionID   = "third_union_id"
	FieldTitle          = "title"
	FieldEmployeeID     = "employee_id"
	FieldEmploymentType = "employment_type"
	FieldPhone          = "phone"
	FieldEmail          = "email"
)

// UserFields is a user create or update payload keyed by wire field name.
// It is a map so that a rejected field can be stripped before a retry.
type UserFields map[string]any

// Clone returns a shallow copy.
func (f UserFields) Clone() UserFields {
	out := make(UserFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// SetIf sets key when value is non-empty.
func (f UserFields) SetIf(key, value string) {
	if value != "" {
		f[key] = value
	}
}

// ListUsers lists every company account in the given statuses. An empty
// status lists all but dimissioned accounts.
func (c *Client) ListUsers(ctx context.Context, status string) ([]model.CloudUser, error) {
	if status == "" {
		status = model.AllStatuses
	}
	users, err := listPaged[model.CloudUser](ctx, c, usersPath, url.Values{"status": {status}}, "company_users")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateUser creates an account and returns its company uid.
func (c *Client) CreateUser(ctx context.Context, fields UserFields) (string, error) {
	var resp struct {
		CompanyUID string `json:"company_uid"`
	}
	if err := c.call(ctx, http.MethodPost, usersPath, nil, fields, &resp); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return resp.CompanyUID, nil
}

// UpdateUser applies fields to an account.
func (c *Client) UpdateUser(ctx context.Context, companyUID string, fields UserFields) error {
	if err := c.call(ctx, http.MethodPut, usersPath+"/"+url.PathEscape(companyUID), nil, fields, nil); err != nil {
		return fmt.Errorf("update user %s: %w", companyUID, err)
	}
	return nil
}

// DeleteUser removes an account. Memberships must be removed first.
func (c *Client) DeleteUser(ctx context.Context, companyUID string) error {
	if err := c.call(ctx, http.MethodDelete, usersPath+"/"+url.PathEscape(companyUID), nil, nil, nil); err != nil {
		return fmt.Errorf("delete user %s: %w", companyUID, err)
	}
	return nil
}

// ThirdBind attaches a source id to an existing account.
func (c *Client) ThirdBind(ctx context.Context, companyUID, thirdUnionID string) error {
	body := map[string]string{FieldThirdUnionID: thirdUnionID}
	if err := c.call(ctx, http.MethodPost, usersPath+"/"+url.PathEscape(companyUID)+"/third-bind", nil, body, nil); err != nil {
		return fmt.Errorf("bind user %s to %s: %w", companyUID, thirdUnionID, err)
	}
	return nil
}

// UsersByThirdIDs looks accounts up by source id.
func (c *Client) UsersByThirdIDs(ctx context.Context, thirdIDs []string, status string) ([]model.CloudUser, error) {
	if len(thirdIDs) == 0 {
		return []model.CloudUser{}, nil
	}
	if status == "" {
		status = model.AllStatuses
	}
	body := map[string]string{
		"third_union_ids": strings.Join(thirdIDs, ","),
		"status":          status,
	}
	var resp struct {
		Data struct {
			CompanyUsers []model.CloudUser `json:"company_users"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, usersPath+"/by-third-union-ids", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("users by third ids: %w", err)
	}
	if resp.Data.CompanyUsers == nil {
		return []model.CloudUser{}, nil
	}
	return resp.Data.CompanyUsers, nil
}

// UsersByIDs reads accounts by company uid.
func (c *Client) UsersByIDs(ctx context.Context, companyUIDs []string) ([]model.CloudUser, error) {
	if len(companyUIDs) == 0 {
		return []model.CloudUser{}, nil
	}
	q := url.Values{
		"company_uids": {strings.Join(companyUIDs, ",")},
		"status":       {model.AllStatuses},
	}
	var resp struct {
		CompanyUsers []model.CloudUser `json:"company_users"`
	}
	if err := c.call(ctx, http.MethodGet, batchUsersPath, q, nil, &resp); err != nil {
		return nil, fmt.Errorf("users by ids: %w", err)
	}
	if resp.CompanyUsers == nil {
		return []model.CloudUser{}, nil
	}
	return resp.CompanyUsers, nil
}

// EnableUsers re-enables disabled accounts.
func (c *Client) EnableUsers(ctx context.Context, companyUIDs []string) error {
	return c.batchUsers(ctx, "enable", companyUIDs)
}

// DisableUsers disables accounts without deleting them.
func (c *Client) DisableUsers(ctx context.Context, companyUIDs []string) error {
	return c.batchUsers(ctx, "disable", companyUIDs)
}

func (c *Client) batchUsers(ctx context.Context, action string, companyUIDs []string) error {
	if len(companyUIDs) == 0 {
		return nil
	}
	q := url.Values{"company_uids": {strings.Join(companyUIDs, ",")}}
	if err := c.call(ctx, http.MethodPut, batchUsersPath+"/"+action, q, nil, nil); err != nil {
		return fmt.Errorf("%s users: %w", action, err)
	}
	return nil
}

// ActivateUsers activates accounts that never signed in.
func (c *Client) ActivateUsers(ctx context.Context, companyUIDs []string) error {
	if len(companyUIDs) == 0 {
		return nil
	}
	body := map[string][]string{"company_uids": companyUIDs}
	if err := c.call(ctx, http.MethodPut, "/kopen/v1/dev/company/users/active/batch", nil, body, nil); err != nil {
		return fmt.Errorf("activate users: %w", err)
	}
	return nil
}

// AddUserToDept adds a membership.
func (c *Client) AddUserToDept(ctx context.Context, companyUID, deptID string) error {
	if err := c.call(ctx, http.MethodPost, deptUsersPath(deptID)+"/"+url.PathEscape(companyUID), nil, nil, nil); err != nil {
		return fmt.Errorf("add user %s to dept %s: %w", companyUID, deptID, err)
	}
	return nil
}

// RemoveUserFromDept removes a membership.
func (c *Client) RemoveUserFromDept(ctx context.Context, companyUID, deptID string) error {
	if err := c.call(ctx, http.MethodDelete, deptUsersPath(deptID)+"/"+url.PathEscape(companyUID), nil, nil, nil); err != nil {
		return fmt.Errorf("remove user %s from dept %s: %w", companyUID, deptID, err)
	}
	return nil
}
