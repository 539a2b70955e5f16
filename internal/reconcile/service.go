package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/orgtree"
	"github.com/roach88/orgsync/internal/staging"
	"github.com/roach88/orgsync/internal/store"
)

// DefaultDeptNameStep replaces separator characters in department names.
const DefaultDeptNameStep = "-"

// DefaultMembershipConcurrency caps parallel membership calls per user.
const DefaultMembershipConcurrency = 4

// Config controls what a run is allowed to change.
type Config struct {
	// RootID is the source id of the department mapped to the cloud root.
	// Empty means the source's own root.
	RootID string

	NoAddUser  bool
	NoAddDept  bool
	BindByName bool

	DeptNameStep          string
	MembershipConcurrency int
	RetentionMonths       int

	// StripTable maps business rejections to the user field to drop before
	// retrying. Nil means cloud.DefaultStripTable.
	StripTable cloud.StripTable
}

func (c Config) withDefaults() Config {
	if c.DeptNameStep == "" {
		c.DeptNameStep = DefaultDeptNameStep
	}
	if c.MembershipConcurrency < 1 {
		c.MembershipConcurrency = DefaultMembershipConcurrency
	}
	if c.StripTable == nil {
		c.StripTable = cloud.DefaultStripTable
	}
	return c
}

// Cloud is the subset of the cloud client a run drives.
type Cloud interface {
	staging.Cloud

	RootDept(ctx context.Context) (model.CloudDept, error)
	ListChildDepts(ctx context.Context, deptID string, recursive bool) ([]model.CloudDept, error)
	DeptByExID(ctx context.Context, exDeptID string) (model.CloudDept, error)
	DeptsByIDs(ctx context.Context, ids []string) ([]model.CloudDept, error)
	CreateDept(ctx context.Context, d cloud.NewDept) (string, error)
	UpdateDept(ctx context.Context, deptID string, p cloud.DeptPatch) error
	DeleteDept(ctx context.Context, deptID string) error
	ListDeptUsers(ctx context.Context, deptID string) ([]model.CloudUser, error)

	ListUsers(ctx context.Context, status string) ([]model.CloudUser, error)
	CreateUser(ctx context.Context, fields cloud.UserFields) (string, error)
	ThirdBind(ctx context.Context, companyUID, thirdUnionID string) error
	UsersByThirdIDs(ctx context.Context, thirdIDs []string, status string) ([]model.CloudUser, error)
	EnableUsers(ctx context.Context, companyUIDs []string) error
	DisableUsers(ctx context.Context, companyUIDs []string) error
	ActivateUsers(ctx context.Context, companyUIDs []string) error
	AddUserToDept(ctx context.Context, companyUID, deptID string) error

	ListGroups(ctx context.Context, deptID string) ([]cloud.Group, error)
	CreateGroup(ctx context.Context, operatorID, deptID string) (cloud.Group, error)
}

// Store is the subset of the mirror store a run reads and writes.
type Store interface {
	staging.Store

	ReplaceAllUsers(ctx context.Context, users []model.SourceUser) error
	ReadAllUsers(ctx context.Context) ([]model.SourceUser, error)
	ReadUser(ctx context.Context, id string) (model.SourceUser, error)
	SetUserCloudID(ctx context.Context, id, cloudID string) error

	ReplaceDepts(ctx context.Context, depts []model.SourceDept) error
	ReplaceOrgs(ctx context.Context, orgs []model.SourceOrg) error
	AddDept(ctx context.Context, d store.Dept) error
	DeleteDept(ctx context.Context, deptID string) error
	InitDeptsFromCloud(ctx context.Context, root *model.DeptNode) error
	ReadDept(ctx context.Context, deptID string) (store.Dept, error)
	ReadChildDepts(ctx context.Context, deptPID string) ([]store.Dept, error)
	ReadAllDepts(ctx context.Context) ([]store.Dept, error)
}

// Source is the source of record.
type Source interface {
	ReadAllUsers(ctx context.Context) ([]model.SourceUser, error)
	ReadAllDepts(ctx context.Context) ([]model.SourceDept, error)
	RootID() string
}

// OrgSource is implemented by sources that export flat organisation rows.
// The rows are mirrored alongside the departments derived from them.
type OrgSource interface {
	ReadAllOrgs(ctx context.Context) ([]model.SourceOrg, error)
}

// IgnoreList names accounts a run must never touch.
type IgnoreList interface {
	Ignores(ctx context.Context) ([]model.IgnoreEntry, error)
}

// Hooks observe the changes a run makes. Implementations must not block.
type Hooks interface {
	AfterAdd(ctx context.Context, users []model.SourceUser)
	AfterEdit(ctx context.Context, user model.SourceUser, patch cloud.UserFields)
	AfterStage(ctx context.Context, users []model.CloudUser)
	AfterDelete(ctx context.Context, rec model.StagedDeletion)
}

// NopHooks ignores every event.
type NopHooks struct{}

func (NopHooks) AfterAdd(context.Context, []model.SourceUser) {}

func (NopHooks) AfterEdit(context.Context, model.SourceUser, cloud.UserFields) {}

func (NopHooks) AfterStage(context.Context, []model.CloudUser) {}

func (NopHooks) AfterDelete(context.Context, model.StagedDeletion) {}

// Service runs reconciliations.
type Service struct {
	cfg     Config
	cloud   Cloud
	store   Store
	source  Source
	ignores IgnoreList
	hooks   Hooks
	stager  *staging.Stager
	logger  *zap.Logger
	now     func() time.Time
	runID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source used for staging and the deleted archive.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHooks sets the change observers.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithIgnoreList sets the accounts to leave alone.
func WithIgnoreList(l IgnoreList) Option {
	return func(s *Service) { s.ignores = l }
}

// WithRunIDs sets the generator for run ids.
func WithRunIDs(next func() string) Option {
	return func(s *Service) { s.runID = next }
}

// New creates a Service. src may be nil for callers that only run the
// cloud-side tasks.
func New(cfg Config, c Cloud, st Store, src Source, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		cloud:  c,
		store:  st,
		source: src,
		hooks:  NopHooks{},
		logger: zap.NewNop(),
		now:    time.Now,
		runID:  newRunID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stager = staging.New(c, st,
		staging.WithLogger(s.logger.Named("staging")),
		staging.WithClock(s.now),
		staging.WithRetentionMonths(s.cfg.RetentionMonths),
		staging.WithStagedHook(s.hooks.AfterStage),
		staging.WithDeletedHook(s.hooks.AfterDelete),
	)
	return s
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Stager exposes the deferred-deletion lifecycle bound to this service.
func (s *Service) Stager() *staging.Stager {
	return s.stager
}

// Report summarizes one pipeline run.
type Report struct {
	RunID  string    `json:"run_id"`
	Depts  DeptStats `json:"depts"`
	Users  UserStats `json:"users"`
	Swept  int       `json:"swept"`
	Tidied int       `json:"tidied"`
}

// Sync runs the full pipeline: pull the source, sync departments, sync
// users, sweep expired staging records and tidy unassigned accounts.
//
// Cancellation of ctx is ignored once the run has started; a run always
// finishes or fails on its own.
func (s *Service) Sync(ctx context.Context) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	rep := Report{RunID: s.runID()}
	run := s.withLogger(s.logger.With(zap.String("run_id", rep.RunID)))
	started := s.now()
	run.logger.Info("sync started")

	if err := run.PullSource(ctx); err != nil {
		return rep, err
	}

	var err error
	if rep.Depts, err = run.SyncDepts(ctx); err != nil {
		return rep, err
	}
	if rep.Users, err = run.SyncUsers(ctx); err != nil {
		return rep, err
	}
	if rep.Swept, err = run.Sweep(ctx); err != nil {
		return rep, err
	}
	if rep.Tidied, err = run.TidyUnassigned(ctx); err != nil {
		return rep, err
	}

	run.logger.Info("sync finished",
		zap.Int("depts_created", rep.Depts.Created),
		zap.Int("depts_updated", rep.Depts.Updated),
		zap.Int("depts_deleted", rep.Depts.Deleted),
		zap.Int("users_added", rep.Users.Added),
		zap.Int("users_updated", rep.Users.Updated),
		zap.Int("users_staged", rep.Users.Staged),
		zap.Int("users_deleted", rep.Users.Deleted),
		zap.Int("swept", rep.Swept),
		zap.Duration("took", s.now().Sub(started)),
	)
	return rep, nil
}

func (s *Service) withLogger(l *zap.Logger) *Service {
	cp := *s
	cp.logger = l
	return &cp
}

// PullSource copies the source snapshot into the mirror. Duplicate user
// records are merged first. An empty user snapshot leaves the mirror
// untouched so that a source outage cannot stage the whole company.
func (s *Service) PullSource(ctx context.Context) error {
	if s.source == nil {
		return fmt.Errorf("pull source: no source configured")
	}

	depts, err := s.source.ReadAllDepts(ctx)
	if err != nil {
		return fmt.Errorf("read source depts: %w", err)
	}
	if err := s.store.ReplaceDepts(ctx, depts); err != nil {
		return fmt.Errorf("mirror depts: %w", err)
	}
	if flat, ok := s.source.(OrgSource); ok {
		orgs, err := flat.ReadAllOrgs(ctx)
		if err != nil {
			return fmt.Errorf("read source orgs: %w", err)
		}
		if err := s.store.ReplaceOrgs(ctx, orgs); err != nil {
			return fmt.Errorf("mirror orgs: %w", err)
		}
	}

	users, err := s.source.ReadAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("read source users: %w", err)
	}
	if len(users) == 0 {
		s.logger.Warn("source returned no users, mirror kept")
		return nil
	}
	merged := orgtree.MergeDuplicateUsers(users)
	if err := s.store.ReplaceAllUsers(ctx, merged); err != nil {
		return fmt.Errorf("mirror users: %w", err)
	}
	s.logger.Info("source pulled",
		zap.Int("depts", len(depts)),
		zap.Int("users", len(merged)),
		zap.Int("duplicates", len(users)-len(merged)),
	)
	return nil
}

func (s *Service) rootID() string {
	if s.cfg.RootID != "" {
		return s.cfg.RootID
	}
	if s.source != nil {
		return s.source.RootID()
	}
	return ""
}
