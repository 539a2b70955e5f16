// Package staging holds users that disappeared from the source in a grace
// period before they are removed from the cloud.
//
// An active account is never deleted the moment it leaves the source. Stage
// retitles it and records the time; Sweep deletes only records whose
// retention window has elapsed; Rescue drops the record of a user that came
// back.
package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/executor"
	"github.com/roach88/orgsync/internal/model"
)

// PendingTitle marks a staged account on the cloud side.
const PendingTitle = "待删除"

// DefaultRetentionMonths is the grace period applied when none is set.
const DefaultRetentionMonths = 6

// Cloud is the subset of the cloud client staging needs.
type Cloud interface {
	UpdateUser(ctx context.Context, companyUID string, fields cloud.UserFields) error
	UsersByIDs(ctx context.Context, companyUIDs []string) ([]model.CloudUser, error)
	RemoveUserFromDept(ctx context.Context, companyUID, deptID string) error
	DeleteUser(ctx context.Context, companyUID string) error
}

// Store is the subset of the mirror store staging needs.
type Store interface {
	StageDeletion(ctx context.Context, rec model.StagedDeletion) error
	ListStaged(ctx context.Context) ([]model.StagedDeletion, error)
	Unstage(ctx context.Context, id string) error
	ArchiveDeletion(ctx context.Context, rec model.StagedDeletion, deletedAt time.Time) error
}

// Stager runs the deferred-deletion lifecycle.
type Stager struct {
	cloud     Cloud
	store     Store
	logger    *zap.Logger
	now       func() time.Time
	months    int
	onStaged  func(ctx context.Context, users []model.CloudUser)
	onDeleted func(ctx context.Context, rec model.StagedDeletion)
}

// Option configures a Stager.
type Option func(*Stager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Stager) { s.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Stager) { s.now = now }
}

// WithRetentionMonths sets the grace period. Values below 1 keep the
// default.
func WithRetentionMonths(months int) Option {
	return func(s *Stager) {
		if months > 0 {
			s.months = months
		}
	}
}

// WithStagedHook is called once per Stage batch with the users that were
// staged.
func WithStagedHook(fn func(ctx context.Context, users []model.CloudUser)) Option {
	return func(s *Stager) { s.onStaged = fn }
}

// WithDeletedHook is called after each record is swept.
func WithDeletedHook(fn func(ctx context.Context, rec model.StagedDeletion)) Option {
	return func(s *Stager) { s.onDeleted = fn }
}

// New creates a Stager.
func New(c Cloud, st Store, opts ...Option) *Stager {
	s := &Stager{
		cloud:  c,
		store:  st,
		logger: zap.NewNop(),
		now:    time.Now,
		months: DefaultRetentionMonths,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetentionMonths returns the configured grace period.
func (s *Stager) RetentionMonths() int {
	return s.months
}

// Eligible reports whether rec has served its retention window at now.
func Eligible(rec model.StagedDeletion, now time.Time, months int) bool {
	return !rec.StagedAt.AddDate(0, months, 0).After(now)
}

// Stage retitles each account and records it for deferred deletion.
// Failures are logged per user; the count of staged users is returned.
func (s *Stager) Stage(ctx context.Context, users []model.CloudUser) int {
	tasks := make([]executor.Task[bool], 0, len(users))
	for _, u := range users {
		tasks = append(tasks, executor.Swallow[bool](s.logger, "stage "+u.ThirdUnionID, func(ctx context.Context) (bool, error) {
			return true, s.stageOne(ctx, u)
		}))
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)

	staged := make([]model.CloudUser, 0, len(users))
	for i, ok := range results {
		if ok {
			staged = append(staged, users[i])
		}
	}
	if len(staged) > 0 && s.onStaged != nil {
		s.onStaged(ctx, staged)
	}
	s.logger.Info("users staged for deletion", zap.Int("staged", len(staged)), zap.Int("requested", len(users)))
	return len(staged)
}

func (s *Stager) stageOne(ctx context.Context, u model.CloudUser) error {
	if u.ThirdUnionID == "" {
		return errors.New("account has no source id")
	}
	if err := s.cloud.UpdateUser(ctx, u.CompanyUID, cloud.UserFields{cloud.FieldTitle: PendingTitle}); err != nil {
		return err
	}
	rec := model.StagedDeletion{
		ID:             u.ThirdUnionID,
		CloudID:        u.CompanyUID,
		Name:           u.Name,
		Classification: u.EmploymentType,
		StagedAt:       s.now(),
	}
	if err := s.store.StageDeletion(ctx, rec); err != nil {
		return fmt.Errorf("record staging: %w", err)
	}
	return nil
}

// Sweep hard-deletes every staged user whose retention window elapsed and
// archives the record. Per-record failures are logged and skipped; the
// count of deleted users is returned.
func (s *Stager) Sweep(ctx context.Context) (int, error) {
	recs, err := s.store.ListStaged(ctx)
	if err != nil {
		return 0, fmt.Errorf("list staged: %w", err)
	}

	now := s.now()
	tasks := []executor.Task[bool]{}
	for _, rec := range recs {
		if !Eligible(rec, now, s.months) {
			continue
		}
		tasks = append(tasks, executor.Swallow[bool](s.logger, "sweep "+rec.ID, func(ctx context.Context) (bool, error) {
			return true, s.sweepOne(ctx, rec, now)
		}))
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)

	deleted := 0
	for _, ok := range results {
		if ok {
			deleted++
		}
	}
	s.logger.Info("staged deletions swept",
		zap.Int("staged", len(recs)),
		zap.Int("eligible", len(tasks)),
		zap.Int("deleted", deleted),
		zap.Int("retention_months", s.months),
	)
	return deleted, nil
}

func (s *Stager) sweepOne(ctx context.Context, rec model.StagedDeletion, now time.Time) error {
	s.logger.Info("deleting staged user",
		zap.String("id", rec.ID),
		zap.String("name", rec.Name),
		zap.Time("staged_at", rec.StagedAt),
	)
	users, err := s.cloud.UsersByIDs(ctx, []string{rec.CloudID})
	if err != nil {
		return err
	}
	// An account already gone from the cloud only needs archiving.
	if len(users) > 0 {
		if err := DeleteAccount(ctx, s.cloud, users[0]); err != nil {
			return err
		}
	}
	if err := s.store.ArchiveDeletion(ctx, rec, now); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if s.onDeleted != nil {
		s.onDeleted(ctx, rec)
	}
	return nil
}

// Rescue drops the staging rows of users that reappeared in the source.
// No cloud call is made. Returns the number of rows removed.
func (s *Stager) Rescue(ctx context.Context, ids []string) int {
	rescued := 0
	for _, id := range ids {
		if err := s.store.Unstage(ctx, id); err != nil {
			s.logger.Warn("rescue failed", zap.String("id", id), zap.Error(err))
			continue
		}
		s.logger.Info("user rescued from staging", zap.String("id", id))
		rescued++
	}
	return rescued
}

// AccountRemover is what DeleteAccount needs from the cloud client.
type AccountRemover interface {
	RemoveUserFromDept(ctx context.Context, companyUID, deptID string) error
	DeleteUser(ctx context.Context, companyUID string) error
}

// DeleteAccount removes every membership of u and then the account itself.
func DeleteAccount(ctx context.Context, c AccountRemover, u model.CloudUser) error {
	for _, d := range u.Depts {
		if err := c.RemoveUserFromDept(ctx, u.CompanyUID, d.ID); err != nil {
			return err
		}
	}
	return c.DeleteUser(ctx, u.CompanyUID)
}
