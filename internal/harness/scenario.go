package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/reconcile"
	"github.com/roach88/orgsync/internal/source"
)

// Scenario defines one end-to-end sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Config Config          `yaml:"config,omitempty"`
	Source source.Snapshot `yaml:"source"`
	Cloud  CloudSeed       `yaml:"cloud,omitempty"`

	// Ignore lists source ids the runs must never touch.
	Ignore []string `yaml:"ignore,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Config is the subset of the run configuration a scenario may set.
type Config struct {
	RootID          string `yaml:"root_id,omitempty"`
	NoAddUser       bool   `yaml:"no_add_user,omitempty"`
	NoAddDept       bool   `yaml:"no_add_dept,omitempty"`
	BindByName      bool   `yaml:"bind_by_name,omitempty"`
	DeptNameStep    string `yaml:"dept_name_step,omitempty"`
	RetentionMonths int    `yaml:"retention_months,omitempty"`
}

func (c Config) reconcile() reconcile.Config {
	return reconcile.Config{
		RootID:                c.RootID,
		NoAddUser:             c.NoAddUser,
		NoAddDept:             c.NoAddDept,
		BindByName:            c.BindByName,
		DeptNameStep:          c.DeptNameStep,
		MembershipConcurrency: 1,
		RetentionMonths:       c.RetentionMonths,
	}
}

// CloudSeed is the directory state the fake starts from. The company root
// always exists with id "root".
type CloudSeed struct {
	Depts []SeedDept `yaml:"depts,omitempty"`
	Users []SeedUser `yaml:"users,omitempty"`
}

// SeedDept is a cloud department. Custom departments are never touched by
// a sync.
type SeedDept struct {
	DeptID   string `yaml:"dept_id"`
	DeptPID  string `yaml:"dept_pid"`
	Name     string `yaml:"name"`
	ExDeptID string `yaml:"ex_dept_id,omitempty"`
	Order    int    `yaml:"order,omitempty"`
	Custom   bool   `yaml:"custom,omitempty"`
}

func (d SeedDept) model() model.CloudDept {
	return model.CloudDept{DeptID: d.DeptID, DeptPID: d.DeptPID, Name: d.Name, ExDeptID: d.ExDeptID, Order: d.Order}
}

// SeedUser is a cloud account. Status defaults to active.
type SeedUser struct {
	CompanyUID     string   `yaml:"company_uid"`
	ThirdUnionID   string   `yaml:"third_union_id,omitempty"`
	Name           string   `yaml:"name"`
	Status         string   `yaml:"status,omitempty"`
	Title          string   `yaml:"title,omitempty"`
	Phone          string   `yaml:"phone,omitempty"`
	Email          string   `yaml:"email,omitempty"`
	EmployeeID     string   `yaml:"employee_id,omitempty"`
	EmploymentType string   `yaml:"employment_type,omitempty"`
	Depts          []string `yaml:"depts,omitempty"`
}

func (u SeedUser) model() model.CloudUser {
	cu := model.CloudUser{
		CompanyUID:     u.CompanyUID,
		ThirdUnionID:   u.ThirdUnionID,
		Name:           u.Name,
		Status:         u.Status,
		Title:          u.Title,
		Phone:          u.Phone,
		Email:          u.Email,
		EmployeeID:     u.EmployeeID,
		EmploymentType: u.EmploymentType,
	}
	if cu.Status == "" {
		cu.Status = model.StatusActive
	}
	for _, d := range u.Depts {
		cu.Depts = append(cu.Depts, model.CloudDeptRef{ID: d})
	}
	return cu
}

// Step operations.
const (
	OpSync         = "sync"
	OpPull         = "pull"
	OpSyncDepts    = "sync_depts"
	OpSyncUsers    = "sync_users"
	OpSweep        = "sweep"
	OpTidy         = "tidy"
	OpCleanDepts   = "clean_depts"
	OpAdvance      = "advance"
	OpSource       = "source"
	OpExpireTokens = "expire_tokens"
)

var knownOps = map[string]bool{
	OpSync: true, OpPull: true, OpSyncDepts: true, OpSyncUsers: true, OpSweep: true,
	OpTidy: true, OpCleanDepts: true, OpAdvance: true, OpSource: true, OpExpireTokens: true,
}

// Step is one action of a scenario.
type Step struct {
	Op string `yaml:"op"`

	// Months and Duration move the clock (advance).
	Months   int    `yaml:"months,omitempty"`
	Duration string `yaml:"duration,omitempty"`

	// Source replaces the snapshot (source).
	Source *source.Snapshot `yaml:"source,omitempty"`

	// Fail queues business errors on the fake before the step runs.
	Fail []Failure `yaml:"fail,omitempty"`
}

// Failure makes the next request to Method Path fail with Code.
type Failure struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Code   int    `yaml:"code"`
	Msg    string `yaml:"msg,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Step scopes mutation assertions to one step (1-based). Zero means the
	// whole run.
	Step int `yaml:"step,omitempty"`

	// Call is a mutation rendered as "METHOD path".
	Call string `yaml:"call,omitempty"`

	// Calls is the expected mutation order.
	Calls []string `yaml:"calls,omitempty"`

	Count int `yaml:"count,omitempty"`

	ThirdID  string `yaml:"third_id,omitempty"`
	ExDeptID string `yaml:"ex_dept_id,omitempty"`

	// Absent asserts that no account or department is bound to the id.
	Absent bool `yaml:"absent,omitempty"`

	// Expect holds expected fields, subset semantics. Accounts support name,
	// status, title, phone, email, employee_id, employment_type and depts
	// (source ids, "root" for the company root); departments support name,
	// parent and type.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// IDs is the exact set of staged or deleted source ids.
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertMutationContains = "mutation_contains"
	AssertMutationOrder    = "mutation_order"
	AssertMutationCount    = "mutation_count"
	AssertCloudUser        = "cloud_user"
	AssertCloudDept        = "cloud_dept"
	AssertStaged           = "staged"
	AssertDeleted          = "deleted"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files under dir, sorted. A file path
// is returned as is.
func FindScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	if !knownOps[s.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	switch s.Op {
	case OpAdvance:
		if s.Months == 0 && s.Duration == "" {
			return fmt.Errorf("steps[%d]: advance needs months or duration", index)
		}
		if s.Duration != "" {
			if _, err := time.ParseDuration(s.Duration); err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
		}
	case OpSource:
		if s.Source == nil {
			return fmt.Errorf("steps[%d]: source is required for source", index)
		}
	}
	for j, f := range s.Fail {
		if f.Method == "" || f.Path == "" || f.Code == 0 {
			return fmt.Errorf("steps[%d].fail[%d]: method, path and code are required", index, j)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Step < 0 || a.Step > steps {
		return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertMutationContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for mutation_contains", index)
		}
	case AssertMutationOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for mutation_order", index)
		}
	case AssertMutationCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for mutation_count", index)
		}
	case AssertCloudUser:
		if a.ThirdID == "" {
			return fmt.Errorf("assertions[%d]: third_id is required for cloud_user", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for cloud_user", index)
		}
	case AssertCloudDept:
		if a.ExDeptID == "" {
			return fmt.Errorf("assertions[%d]: ex_dept_id is required for cloud_dept", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for cloud_dept", index)
		}
	case AssertStaged, AssertDeleted:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
