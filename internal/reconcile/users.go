package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/executor"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/staging"
)

// UserStats counts the user changes of one sync.
type UserStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Staged  int `json:"staged"`
	Deleted int `json:"deleted"`
	Rescued int `json:"rescued"`
	Bound   int `json:"bound"`
	Failed  int `json:"failed"`
}

// SyncUsers converges cloud accounts onto the mirrored roster.
//
// Accounts are matched by source id. Source users missing on the cloud are
// created with their departments, accounts whose user left the source are
// staged (or deleted outright when not active), and matched pairs get a
// minimal field patch and a membership set diff. Staged and ignored ids are
// kept out of the diff. A failure on one user is logged and the rest of the
// batch continues.
func (s *Service) SyncUsers(ctx context.Context) (UserStats, error) {
	var stats UserStats

	local, err := s.store.ReadAllUsers(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync users: %w", err)
	}
	remote, err := s.cloud.ListUsers(ctx, model.AllStatuses)
	if err != nil {
		return stats, fmt.Errorf("sync users: %w", err)
	}

	if s.cfg.BindByName {
		stats.Bound = s.bindByName(ctx, remote, local)
	}

	staged, err := s.stagedIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync users: %w", err)
	}
	ignored, err := s.ignoredIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync users: %w", err)
	}

	cloudByID := make(map[string]model.CloudUser, len(remote))
	var cloudOrder []string
	for _, u := range remote {
		if u.ThirdUnionID == "" || staged[u.ThirdUnionID] || ignored[u.ThirdUnionID] {
			continue
		}
		if _, dup := cloudByID[u.ThirdUnionID]; dup {
			s.logger.Warn("source id bound to more than one account", zap.String("id", u.ThirdUnionID))
			continue
		}
		cloudByID[u.ThirdUnionID] = u
		cloudOrder = append(cloudOrder, u.ThirdUnionID)
	}

	localIDs := make(map[string]bool, len(local))
	var add, rescue []model.SourceUser
	type pair struct {
		src   model.SourceUser
		cloud model.CloudUser
	}
	var edit []pair
	for _, u := range local {
		if ignored[u.ID] {
			continue
		}
		localIDs[u.ID] = true
		cu, ok := cloudByID[u.ID]
		switch {
		case ok:
			edit = append(edit, pair{src: u, cloud: cu})
		case staged[u.ID]:
			rescue = append(rescue, u)
		default:
			add = append(add, u)
		}
	}
	var gone []model.CloudUser
	for _, id := range cloudOrder {
		if !localIDs[id] {
			gone = append(gone, cloudByID[id])
		}
	}

	s.logger.Info("user diff",
		zap.Int("local", len(localIDs)),
		zap.Int("cloud", len(cloudByID)),
		zap.Int("add", len(add)),
		zap.Int("rescue", len(rescue)),
		zap.Int("gone", len(gone)),
		zap.Int("matched", len(edit)),
	)

	r := s.newResolver()

	if len(rescue) > 0 {
		ids := make([]string, 0, len(rescue))
		for _, u := range rescue {
			ids = append(ids, u.ID)
		}
		stats.Rescued = s.stager.Rescue(ctx, ids)
	}

	if len(add) > 0 && !s.cfg.NoAddUser {
		added := s.addUsers(ctx, r, add)
		stats.Added = len(added)
		stats.Failed += len(add) - len(added)
	}

	if len(gone) > 0 {
		var now, later []model.CloudUser
		for _, u := range gone {
			if u.IsActive() {
				later = append(later, u)
			} else {
				now = append(now, u)
			}
		}
		deleted := s.deleteUsers(ctx, now)
		stats.Deleted = deleted
		stats.Failed += len(now) - deleted
		if len(later) > 0 {
			n := s.stager.Stage(ctx, later)
			stats.Staged = n
			stats.Failed += len(later) - n
		}
	}

	tasks := make([]executor.Task[editResult], 0, len(edit))
	for _, p := range edit {
		tasks = append(tasks, func(ctx context.Context) (editResult, error) {
			changed, err := s.editUser(ctx, r, p.src, p.cloud)
			if err != nil {
				s.logger.Warn("user edit failed", zap.String("id", p.src.ID), zap.Error(err))
				return editFailed, nil
			}
			if changed {
				return editChanged, nil
			}
			return editNone, nil
		})
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)
	for _, res := range results {
		switch res {
		case editChanged:
			stats.Updated++
		case editFailed:
			stats.Failed++
		}
	}

	s.logger.Info("users synced",
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("staged", stats.Staged),
		zap.Int("deleted", stats.Deleted),
		zap.Int("rescued", stats.Rescued),
		zap.Int("bound", stats.Bound),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

type editResult int

const (
	editNone editResult = iota
	editChanged
	editFailed
)

func (s *Service) stagedIDs(ctx context.Context) (map[string]bool, error) {
	recs, err := s.store.ListStaged(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(recs))
	for _, rec := range recs {
		ids[rec.ID] = true
	}
	return ids, nil
}

func (s *Service) ignoredIDs(ctx context.Context) (map[string]bool, error) {
	ids := make(map[string]bool)
	if s.ignores == nil {
		return ids, nil
	}
	entries, err := s.ignores.Ignores(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ignore list: %w", err)
	}
	for _, e := range entries {
		if e.ID != "" {
			ids[e.ID] = true
		}
	}
	return ids, nil
}

// bindByName attaches source ids to accounts created by hand. An account
// without a source id whose name matches exactly one source user is bound
// when active and deleted otherwise; the matching slot of remote is updated
// so the account takes part in the diff. Source users whose id an account
// already carries are never matched. Returns the number bound.
func (s *Service) bindByName(ctx context.Context, remote []model.CloudUser, local []model.SourceUser) int {
	taken := make(map[string]bool, len(remote))
	for _, cu := range remote {
		if cu.ThirdUnionID != "" {
			taken[cu.ThirdUnionID] = true
		}
	}
	byName := make(map[string][]model.SourceUser)
	for _, u := range local {
		byName[u.Name] = append(byName[u.Name], u)
	}

	bound := 0
	for i, cu := range remote {
		if cu.ThirdUnionID != "" {
			continue
		}
		var matches []model.SourceUser
		for _, u := range byName[cu.Name] {
			if !taken[u.ID] {
				matches = append(matches, u)
			}
		}
		if len(matches) != 1 {
			if len(matches) > 1 {
				s.logger.Info("name matches several source users, not bound",
					zap.String("company_uid", cu.CompanyUID),
					zap.String("name", cu.Name),
					zap.Int("matches", len(matches)),
				)
			}
			continue
		}
		src := matches[0]
		if !cu.IsActive() {
			if err := staging.DeleteAccount(ctx, s.cloud, cu); err != nil {
				s.logger.Warn("unbound account delete failed", zap.String("company_uid", cu.CompanyUID), zap.Error(err))
				continue
			}
			s.logger.Info("inactive unbound account deleted", zap.String("company_uid", cu.CompanyUID), zap.String("name", cu.Name))
			continue
		}
		if err := s.cloud.ThirdBind(ctx, cu.CompanyUID, src.ID); err != nil {
			s.logger.Warn("bind by name failed", zap.String("company_uid", cu.CompanyUID), zap.Error(err))
			continue
		}
		if err := s.store.SetUserCloudID(ctx, src.ID, cu.CompanyUID); err != nil {
			s.logger.Warn("cloud id not recorded", zap.String("id", src.ID), zap.Error(err))
		}
		s.logger.Info("account bound by name",
			zap.String("company_uid", cu.CompanyUID),
			zap.String("id", src.ID),
			zap.String("name", cu.Name),
		)
		remote[i].ThirdUnionID = src.ID
		taken[src.ID] = true
		bound++
	}
	return bound
}

// addUsers creates accounts for users and fires AfterAdd with the ones
// that succeeded.
func (s *Service) addUsers(ctx context.Context, r *deptResolver, users []model.SourceUser) []model.SourceUser {
	tasks := make([]executor.Task[bool], 0, len(users))
	for _, u := range users {
		tasks = append(tasks, executor.Swallow[bool](s.logger, "add "+u.ID, func(ctx context.Context) (bool, error) {
			_, err := s.addUser(ctx, r, u)
			return err == nil, err
		}))
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)

	added := make([]model.SourceUser, 0, len(users))
	for i, ok := range results {
		if ok {
			added = append(added, users[i])
		}
	}
	if len(added) > 0 {
		s.hooks.AfterAdd(ctx, added)
	}
	return added
}

// addUser creates the account for u and places it in its departments.
// Returns the new company uid.
func (s *Service) addUser(ctx context.Context, r *deptResolver, u model.SourceUser) (string, error) {
	fields := cloud.UserFields{
		cloud.FieldName:         u.Name,
		cloud.FieldThirdUnionID: u.ID,
		cloud.FieldRoleID:       model.RoleMember,
	}
	fields.SetIf(cloud.FieldPhone, model.VerifyPhone(u.Phone))
	fields.SetIf(cloud.FieldEmail, model.VerifyEmail(u.Email))
	fields.SetIf(cloud.FieldTitle, u.Title)
	fields.SetIf(cloud.FieldEmployeeID, model.TruncateEmployeeID(u.EmployeeID))
	fields.SetIf(cloud.FieldEmploymentType, u.EmploymentType)

	var uid string
	_, err := s.withStrip(ctx, u.ID, fields, func(f cloud.UserFields) error {
		var err error
		uid, err = s.cloud.CreateUser(ctx, f)
		return err
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("user created", zap.String("id", u.ID), zap.String("company_uid", uid), zap.String("name", u.Name))

	if err := s.store.SetUserCloudID(ctx, u.ID, uid); err != nil {
		s.logger.Warn("cloud id not recorded", zap.String("id", u.ID), zap.Error(err))
	}
	if _, err := s.syncMemberships(ctx, r, uid, nil, u.Depts); err != nil {
		return uid, fmt.Errorf("memberships of %s: %w", u.ID, err)
	}
	return uid, nil
}

// editUser patches the fields of cu that drifted from src and reconciles
// its memberships. Values are compared after the same normalization applied
// on create so that an unchanged user produces no call.
func (s *Service) editUser(ctx context.Context, r *deptResolver, src model.SourceUser, cu model.CloudUser) (bool, error) {
	patch := cloud.UserFields{}
	if src.Title != cu.Title {
		patch[cloud.FieldTitle] = src.Title
	}
	if src.Name != "" && src.Name != cu.Name {
		patch[cloud.FieldName] = src.Name
	}
	if src.EmploymentType != "" && src.EmploymentType != cu.EmploymentType {
		patch[cloud.FieldEmploymentType] = src.EmploymentType
	}
	if id := model.TruncateEmployeeID(src.EmployeeID); id != cu.EmployeeID {
		patch[cloud.FieldEmployeeID] = id
	}
	if email := model.VerifyEmail(src.Email); email != "" && email != cu.Email {
		patch[cloud.FieldEmail] = email
	}
	if phone := model.VerifyPhone(src.Phone); phone != "" && phone != cu.Phone {
		patch[cloud.FieldPhone] = phone
	}

	changed := false
	sent := cloud.UserFields{}
	if len(patch) > 0 {
		var err error
		sent, err = s.withStrip(ctx, src.ID, patch, func(f cloud.UserFields) error {
			return s.cloud.UpdateUser(ctx, cu.CompanyUID, f)
		})
		if err != nil {
			return false, err
		}
		if len(sent) > 0 {
			s.logger.Info("user updated", zap.String("id", src.ID), zap.String("company_uid", cu.CompanyUID))
			changed = true
		}
	}

	moved, err := s.syncMemberships(ctx, r, cu.CompanyUID, cu.Depts, src.Depts)
	if moved {
		changed = true
	}
	if changed {
		s.hooks.AfterEdit(ctx, src, sent)
	}
	return changed, err
}

// withStrip runs call with fields and returns the fields the cloud
// accepted. When the cloud rejects a field listed in the strip table, that
// field is dropped and the call retried; each field is dropped at most once.
// A patch left empty by stripping is not sent and comes back empty.
func (s *Service) withStrip(ctx context.Context, id string, fields cloud.UserFields, call func(cloud.UserFields) error) (cloud.UserFields, error) {
	attempt := fields.Clone()
	for retries := 0; ; retries++ {
		err := call(attempt)
		if err == nil {
			return attempt, nil
		}
		field, ok := s.cfg.StripTable.FieldFor(err)
		if !ok || retries >= s.cfg.StripTable.Fields() {
			return nil, err
		}
		if _, present := attempt[field]; !present {
			return nil, err
		}
		delete(attempt, field)
		s.logger.Warn("field rejected, retrying without it",
			zap.String("id", id),
			zap.String("field", field),
			zap.Error(err),
		)
		if len(attempt) == 0 {
			return attempt, nil
		}
	}
}

// syncMemberships brings the memberships of uid from have to the
// departments listed in want. A user with no departments belongs to the
// root. When a wanted department cannot be resolved, no membership is
// removed so that a transient failure never strips a user.
func (s *Service) syncMemberships(ctx context.Context, r *deptResolver, uid string, have []model.CloudDeptRef, want []model.DeptRef) (bool, error) {
	wantIDs := []string{}
	wanted := make(map[string]bool)
	unresolved := false

	if len(want) == 0 {
		want = []model.DeptRef{{}}
	}
	for _, ref := range want {
		id, err := r.resolve(ctx, ref.ThirdDeptID)
		if err != nil {
			s.logger.Warn("department unresolved", zap.String("company_uid", uid), zap.String("dept_id", ref.ThirdDeptID), zap.Error(err))
			unresolved = true
			continue
		}
		if !wanted[id] {
			wanted[id] = true
			wantIDs = append(wantIDs, id)
		}
	}

	current := make(map[string]bool, len(have))
	for _, d := range have {
		current[d.ID] = true
	}

	var tasks []executor.Task[struct{}]
	for _, id := range wantIDs {
		if !current[id] {
			tasks = append(tasks, executor.Do(func(ctx context.Context) error {
				return s.cloud.AddUserToDept(ctx, uid, id)
			}))
		}
	}
	if !unresolved {
		for _, d := range have {
			if !wanted[d.ID] {
				tasks = append(tasks, executor.Do(func(ctx context.Context) error {
					return s.cloud.RemoveUserFromDept(ctx, uid, d.ID)
				}))
			}
		}
	}
	if len(tasks) == 0 {
		if unresolved {
			return false, errors.New("some departments could not be resolved")
		}
		return false, nil
	}

	_, err := executor.RunBounded(ctx, s.cfg.MembershipConcurrency, tasks)
	if err == nil && unresolved {
		err = errors.New("some departments could not be resolved")
	}
	return true, err
}

// deleteUsers removes accounts at once, without staging, and records them
// in the deleted archive.
func (s *Service) deleteUsers(ctx context.Context, users []model.CloudUser) int {
	tasks := make([]executor.Task[bool], 0, len(users))
	for _, u := range users {
		tasks = append(tasks, executor.Swallow[bool](s.logger, "delete "+u.ThirdUnionID, func(ctx context.Context) (bool, error) {
			if err := staging.DeleteAccount(ctx, s.cloud, u); err != nil {
				return false, err
			}
			rec := model.StagedDeletion{
				ID:             u.ThirdUnionID,
				CloudID:        u.CompanyUID,
				Name:           u.Name,
				Classification: u.EmploymentType,
			}
			now := s.now()
			rec.StagedAt = now
			if err := s.store.ArchiveDeletion(ctx, rec, now); err != nil {
				return false, fmt.Errorf("archive: %w", err)
			}
			s.logger.Info("inactive user deleted",
				zap.String("id", u.ThirdUnionID),
				zap.String("company_uid", u.CompanyUID),
				zap.String("status", u.Status),
			)
			s.hooks.AfterDelete(ctx, rec)
			return true, nil
		}))
	}
	results, _ := executor.RunBounded(ctx, 1, tasks)

	deleted := 0
	for _, ok := range results {
		if ok {
			deleted++
		}
	}
	return deleted
}
