package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/cloudtest"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/store"
	"github.com/roach88/orgsync/internal/testutil"
)

var start = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type staticSource struct {
	root  string
	depts []model.SourceDept
	users []model.SourceUser
}

func (s *staticSource) ReadAllUsers(context.Context) ([]model.SourceUser, error) { return s.users, nil }

func (s *staticSource) ReadAllDepts(context.Context) ([]model.SourceDept, error) { return s.depts, nil }

func (s *staticSource) RootID() string { return s.root }

type staticIgnores []model.IgnoreEntry

func (l staticIgnores) Ignores(context.Context) ([]model.IgnoreEntry, error) { return l, nil }

type recordingHooks struct {
	NopHooks
	added   []string
	edited  []string
	staged  []string
	deleted []string
}

func (h *recordingHooks) AfterAdd(_ context.Context, users []model.SourceUser) {
	for _, u := range users {
		h.added = append(h.added, u.ID)
	}
}

func (h *recordingHooks) AfterEdit(_ context.Context, u model.SourceUser, _ cloud.UserFields) {
	h.edited = append(h.edited, u.ID)
}

func (h *recordingHooks) AfterStage(_ context.Context, users []model.CloudUser) {
	for _, u := range users {
		h.staged = append(h.staged, u.ThirdUnionID)
	}
}

func (h *recordingHooks) AfterDelete(_ context.Context, rec model.StagedDeletion) {
	h.deleted = append(h.deleted, rec.ID)
}

type fixture struct {
	fake   *cloudtest.Server
	store  *store.Store
	clock  *testutil.FakeClock
	client *cloud.Client
	src    *staticSource
}

// newFixture wires a fake cloud, a temp mirror and a source holding the
// department tree
//
//	R
//	├── A  Alpha (order 1)
//	│   └── A1 Alpha One
//	└── B  Beta (order 2)
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := cloudtest.New("AK-test")
	t.Cleanup(fake.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &fixture{
		fake:   fake,
		store:  st,
		clock:  testutil.NewFakeClock(start),
		client: cloud.New(fake.URL(), "AK-test", "secret", cloud.WithPageDelay(0)),
		src: &staticSource{
			root: "R",
			depts: []model.SourceDept{
				{DeptID: "R", DeptPID: "R", Name: "Head Office"},
				{DeptID: "A", DeptPID: "R", Name: "Alpha", Order: model.IntPtr(1)},
				{DeptID: "A1", DeptPID: "A", Name: "Alpha One"},
				{DeptID: "B", DeptPID: "R", Name: "Beta", Order: model.IntPtr(2)},
			},
		},
	}
}

func (f *fixture) service(cfg Config, opts ...Option) *Service {
	if cfg.MembershipConcurrency == 0 {
		cfg.MembershipConcurrency = 1
	}
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithRunIDs(testutil.NewSequenceIDs("run").Next),
	}, opts...)
	return New(cfg, f.client, f.store, f.src, opts...)
}

func (f *fixture) pull(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.PullSource(context.Background()))
}

// mutations renders the recorded state-changing calls as "METHOD path".
func (f *fixture) mutations() []string {
	out := []string{}
	for _, c := range f.fake.Mutations() {
		out = append(out, c.Method+" "+c.Path)
	}
	return out
}

func (f *fixture) callsTo(method, path string) []cloudtest.Call {
	out := []cloudtest.Call{}
	for _, c := range f.fake.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func user(id, name string, deptIDs ...string) model.SourceUser {
	u := model.SourceUser{ID: id, Name: name}
	for _, d := range deptIDs {
		u.Depts = append(u.Depts, model.DeptRef{ThirdDeptID: d})
	}
	return u
}

func cloudUser(uid, thirdID, name, status string, deptIDs ...string) model.CloudUser {
	u := model.CloudUser{CompanyUID: uid, ThirdUnionID: thirdID, Name: name, Status: status}
	for _, d := range deptIDs {
		u.Depts = append(u.Depts, model.CloudDeptRef{ID: d})
	}
	return u
}

func deptIDs(u model.CloudUser) []string {
	ids := []string{}
	for _, d := range u.Depts {
		ids = append(ids, d.ID)
	}
	return ids
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

const (
	deptsPath = "/plus/v1/company/depts"
	usersPath = "/plus/v1/company/company_users"
)
