package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orgsync/internal/cloudtest"
	"github.com/roach88/orgsync/internal/model"
)

func TestSync_ConvergesAndSecondRunIsNoop(t *testing.T) {
	f := newFixture(t)
	lead := user("u2", "Bea", "B")
	lead.Title = "Lead"
	f.src.users = []model.SourceUser{
		user("u1", "Alice", "A1"),
		lead,
		user("u3", "Cai"),
		user("u1", "Alice", "B"),
	}

	svc := f.service(Config{})
	rep, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, 3, rep.Depts.Created)
	assert.Equal(t, 3, rep.Users.Added)

	a1, _ := f.fake.DeptByExID("A1")
	b, _ := f.fake.DeptByExID("B")
	alice, ok := f.fake.UserByThirdID("u1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{a1.DeptID, b.DeptID}, deptIDs(alice), "duplicate records are merged")

	f.fake.ResetCalls()
	rep, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", rep.RunID)
	assert.Empty(t, f.mutations())
	assert.Equal(t, Report{RunID: "run-2"}, rep)
}

func TestSync_StagedUserSweptAfterRetention(t *testing.T) {
	f := newFixture(t)
	f.src.users = []model.SourceUser{user("u1", "Alice")}
	f.fake.SeedUser(cloudUser("c-gone", "gone", "Gone", model.StatusActive, cloudtest.RootID))

	svc := f.service(Config{RetentionMonths: 6})
	rep, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Users.Staged)
	assert.Equal(t, 0, rep.Swept)

	f.clock.Set(start.AddDate(0, 6, -1))
	rep, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Swept)
	_, ok := f.fake.UserByThirdID("gone")
	assert.True(t, ok, "still inside the grace period")

	f.clock.Set(start.AddDate(0, 6, 0))
	f.fake.ResetCalls()
	rep, err = svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Swept)
	assert.Equal(t, []string{
		"DELETE " + deptsPath + "/" + cloudtest.RootID + "/company_users/c-gone",
		"DELETE " + usersPath + "/c-gone",
	}, f.mutations())

	deleted, err := f.store.ListDeleted(context.Background())
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "gone", deleted[0].ID)
}

func TestSync_EmptySourceKeepsMirror(t *testing.T) {
	f := newFixture(t)
	f.src.users = []model.SourceUser{user("u1", "Alice")}
	svc := f.service(Config{})
	_, err := svc.Sync(context.Background())
	require.NoError(t, err)

	f.src.users = nil
	f.fake.ResetCalls()
	rep, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Users.Staged)
	assert.Empty(t, f.mutations())
}

func TestSync_IgnoresCancellationOnceStarted(t *testing.T) {
	f := newFixture(t)
	f.src.users = []model.SourceUser{user("u1", "Alice")}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.service(Config{}).Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Users.Added)
}

func TestTidyUnassigned(t *testing.T) {
	f := newFixture(t)
	f.fake.SeedUser(cloudUser("n-1", "", "Loose", model.StatusActive))
	f.fake.SeedUser(cloudUser("n-2", "x", "Bound", model.StatusActive))
	f.fake.SeedUser(cloudUser("n-3", "", "Placed", model.StatusActive, cloudtest.RootID))

	n, err := f.service(Config{}).TidyUnassigned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"POST " + deptsPath + "/" + cloudtest.RootID + "/company_users/n-1"}, f.mutations())
}

func TestActivateUser(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.ReplaceAllUsers(context.Background(), []model.SourceUser{user("u7", "Mirror Name")}))
	f.fake.SeedUser(cloudUser("c-9", "u9", "Dormant", model.StatusNotActive, cloudtest.RootID))

	hooks := &recordingHooks{}
	svc := f.service(Config{}, WithHooks(hooks))

	uid, err := svc.ActivateUser(context.Background(), "u7", "Chosen Name")
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
	cu, ok := f.fake.UserByThirdID("u7")
	require.True(t, ok)
	assert.Equal(t, "Chosen Name", cu.Name)
	assert.Equal(t, []string{cloudtest.RootID}, deptIDs(cu))
	assert.Equal(t, []string{"u7"}, hooks.added)

	uid, err = svc.ActivateUser(context.Background(), "u9", "")
	require.NoError(t, err)
	assert.Equal(t, "c-9", uid)
	cu, _ = f.fake.UserByThirdID("u9")
	assert.Equal(t, model.StatusActive, cu.Status)

	_, err = svc.ActivateUser(context.Background(), "nobody", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in mirror")
}

func TestSetUsersEnabled(t *testing.T) {
	f := newFixture(t)
	f.fake.SeedUser(cloudUser("c-a", "a", "A", model.StatusActive))
	f.fake.SeedUser(cloudUser("c-b", "b", "B", model.StatusActive))
	svc := f.service(Config{})

	n, err := svc.SetUsersEnabled(context.Background(), []string{"a", "b", "missing"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	a, _ := f.fake.UserByThirdID("a")
	assert.Equal(t, model.StatusDisabled, a.Status)

	n, err = svc.SetUsersEnabled(context.Background(), []string{"a"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, _ = f.fake.UserByThirdID("a")
	assert.Equal(t, model.StatusActive, a.Status)

	n, err = svc.SetUsersEnabled(context.Background(), []string{"missing"}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCreateDeptGroups(t *testing.T) {
	f := newFixture(t)
	f.fake.SeedDept(model.CloudDept{DeptID: "d1", DeptPID: cloudtest.RootID, Name: "One"})
	f.fake.SeedDept(model.CloudDept{DeptID: "d2", DeptPID: "d1", Name: "Two"})
	svc := f.service(Config{})

	n, err := svc.CreateDeptGroups(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.CreateDeptGroups(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
