package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const groupsPath = "/kopen/plus/v2/open/dev/groups"

// Group is a department chat group.
type Group struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	DeptID  string `json:"dept_id"`
	Type    string `json:"type,omitempty"`
}

// ListGroups lists the groups attached to a department.
func (c *Client) ListGroups(ctx context.Context, deptID string) ([]Group, error) {
	var resp struct {
		Groups []Group `json:"groups"`
	}
	if err := c.call(ctx, http.MethodGet, groupsPath, url.Values{"dept_id": {deptID}}, nil, &resp); err != nil {
		return nil, fmt.Errorf("list groups of dept %s: %w", deptID, err)
	}
	if resp.Groups == nil {
		return []Group{}, nil
	}
	return resp.Groups, nil
}

// CreateGroup creates the department group of deptID on behalf of
// operatorID.
func (c *Client) CreateGroup(ctx context.Context, operatorID, deptID string) (Group, error) {
	body := map[string]string{
		"operator_id": operatorID,
		"dept_id":     deptID,
		"type":        "corpdep",
	}
	var g Group
	if err := c.call(ctx, http.MethodPost, groupsPath, nil, body, &g); err != nil {
		return Group{}, fmt.Errorf("create group for dept %s: %w", deptID, err)
	}
	return g, nil
}
