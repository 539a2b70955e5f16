package cloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const spacesPath = "/kopen/plus/v2/open/dev/spaces"

// SpaceUsage is a storage figure in bytes.
type SpaceUsage struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

// UserSpaceUsage reads the storage used by one account.
func (c *Client) UserSpaceUsage(ctx context.Context, companyUID string) (SpaceUsage, error) {
	var u SpaceUsage
	if err := c.call(ctx, http.MethodGet, spacesPath+"/usage/users/"+url.PathEscape(companyUID), nil, nil, &u); err != nil {
		return SpaceUsage{}, fmt.Errorf("space usage of %s: %w", companyUID, err)
	}
	return u, nil
}

// CompanyQuota reads the company-wide storage quota.
func (c *Client) CompanyQuota(ctx context.Context) (SpaceUsage, error) {
	var u SpaceUsage
	if err := c.call(ctx, http.MethodGet, spacesPath+"/quota/company", nil, nil, &u); err != nil {
		return SpaceUsage{}, fmt.Errorf("company quota: %w", err)
	}
	return u, nil
}
