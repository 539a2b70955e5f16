package reconcile

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orgsync/internal/store"
)

func TestBindDeptExIDs(t *testing.T) {
	f := newFixture(t)
	svc := f.service(Config{})
	f.pull(t, svc)
	_, err := svc.SyncDepts(context.Background())
	require.NoError(t, err)

	a, _ := f.fake.DeptByExID("A")
	b, _ := f.fake.DeptByExID("B")
	a.ExDeptID = ""
	f.fake.SeedDept(a)
	b.ExDeptID = "X"
	f.fake.SeedDept(b)
	require.NoError(t, f.store.AddDept(context.Background(), store.Dept{
		DeptID: "A1", DeptPID: "A", CloudDeptID: "dept-missing", CloudDeptPID: a.DeptID, Name: "Alpha One",
	}))
	f.fake.ResetCalls()

	stats, err := svc.BindDeptExIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExIDStats{Bound: 1, Conflict: 1, Missing: 1}, stats)

	puts := f.callsTo(http.MethodPut, deptsPath+"/"+a.DeptID)
	require.Len(t, puts, 1)
	assert.Equal(t, `{"ex_dept_id":"A"}`, puts[0].Body)
	assert.Len(t, f.mutations(), 1, "conflicting and missing departments are left alone")

	bound, ok := f.fake.DeptByExID("A")
	require.True(t, ok)
	assert.Equal(t, a.DeptID, bound.DeptID)

	f.fake.ResetCalls()
	stats, err = svc.BindDeptExIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Bound)
	assert.Empty(t, f.mutations())
}

func TestBindDeptExIDs_EmptyMirror(t *testing.T) {
	f := newFixture(t)
	svc := f.service(Config{})

	stats, err := svc.BindDeptExIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExIDStats{}, stats)
	assert.Empty(t, f.callsTo(http.MethodGet, "/plus/v1/batch/company/depts"))
}
