package model

import "time"

// SourceUser is one member as reported by the source of record.
type SourceUser struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Phone          string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email          string    `json:"email,omitempty" yaml:"email,omitempty"`
	Title          string    `json:"title,omitempty" yaml:"title,omitempty"`
	EmployeeID     string    `json:"employee_id,omitempty" yaml:"employee_id,omitempty"`
	EmploymentType string    `json:"employment_type,omitempty" yaml:"employment_type,omitempty"`
	Status         string    `json:"status,omitempty" yaml:"status,omitempty"`
	Order          int       `json:"order,omitempty" yaml:"order,omitempty"`
	Depts          []DeptRef `json:"depts,omitempty" yaml:"depts,omitempty"`
}

// DeptRef links a user to a department. CloudDeptID is empty until the
// department has been resolved on the cloud side.
type DeptRef struct {
	ThirdDeptID string `json:"third_dept_id" yaml:"third_dept_id"`
	CloudDeptID string `json:"cloud_dept_id,omitempty" yaml:"cloud_dept_id,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
}

// SourceDept is one node of the source department forest.
// DeptPID == DeptID marks a root.
type SourceDept struct {
	DeptID  string `json:"dept_id" yaml:"dept_id"`
	DeptPID string `json:"dept_pid" yaml:"dept_pid"`
	Name    string `json:"name" yaml:"name"`
	Order   *int   `json:"order,omitempty" yaml:"order,omitempty"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
}

// SourceOrg is the flat organisation row some registries export instead of
// a department list.
type SourceOrg struct {
	OrgID        string `json:"org_id" yaml:"org_id"`
	OrgName      string `json:"org_name" yaml:"org_name"`
	ParentUnitID string `json:"parent_unit_id" yaml:"parent_unit_id"`
	Order        *int   `json:"order,omitempty" yaml:"order,omitempty"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
}

// Dept converts the org row into a department row.
func (o SourceOrg) Dept() SourceDept {
	return SourceDept{
		DeptID:  o.OrgID,
		DeptPID: o.ParentUnitID,
		Name:    o.OrgName,
		Order:   o.Order,
		Status:  o.Status,
	}
}

// Cloud user statuses.
const (
	StatusActive    = "active"
	StatusNotActive = "notactive"
	StatusDisabled  = "disabled"
	StatusDimission = "dimission"
)

// AllStatuses is the status filter used when listing every cloud account.
const AllStatuses = "active,notactive,disabled"

// Cloud roles.
const (
	RoleSuperAdmin = 1
	RoleAdmin      = 2
	RoleMember     = 3
)

// CloudDeptRef is a department membership as reported by the cloud.
type CloudDeptRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CloudUser is a company account on the cloud platform.
type CloudUser struct {
	CompanyUID     string         `json:"company_uid"`
	ThirdUnionID   string         `json:"third_union_id,omitempty"`
	Name           string         `json:"name"`
	RoleID         int            `json:"role_id"`
	Status         string         `json:"status"`
	Depts          []CloudDeptRef `json:"depts"`
	Title          string         `json:"title,omitempty"`
	EmployeeID     string         `json:"employee_id,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Email          string         `json:"email,omitempty"`
	EmploymentType string         `json:"employment_type,omitempty"`
}

// IsActive reports whether the account is in the active state.
func (u CloudUser) IsActive() bool {
	return u.Status == StatusActive
}

// CloudDept is a department on the cloud platform.
type CloudDept struct {
	DeptID   string `json:"dept_id"`
	DeptPID  string `json:"dept_pid"`
	Name     string `json:"name"`
	ExDeptID string `json:"ex_dept_id,omitempty"`
	Order    int    `json:"order"`
}

// Department types. Only synced departments are ever removed by a sync.
const (
	DeptTypeSynced = 0
	DeptTypeCustom = 1
)

// DeptNode is the in-memory tree node used on both sides of a department
// diff. DeptID/DeptPID are source ids; CloudDeptID/CloudDeptPID are cloud ids.
type DeptNode struct {
	DeptID       string
	DeptPID      string
	CloudDeptID  string
	CloudDeptPID string
	Name         string
	Order        *int
	DeptType     int
	Children     []*DeptNode
}

// OrderOr returns the node order, or fallback when the node has none.
func (n *DeptNode) OrderOr(fallback int) int {
	if n.Order == nil {
		return fallback
	}
	return *n.Order
}

// StagedDeletion is a user held in the grace period before removal.
type StagedDeletion struct {
	ID             string    `json:"id"`
	CloudID        string    `json:"cloud_id"`
	Name           string    `json:"name"`
	Classification string    `json:"classification,omitempty"`
	StagedAt       time.Time `json:"staged_at"`
}

// DeletedUser is the permanent record of a user removed from the cloud.
type DeletedUser struct {
	ID             string    `json:"id"`
	CloudID        string    `json:"cloud_id"`
	Name           string    `json:"name"`
	Classification string    `json:"classification,omitempty"`
	DeletedAt      time.Time `json:"deleted_at"`
}

// IgnoreEntry names an account that must never be touched by a sync.
type IgnoreEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
