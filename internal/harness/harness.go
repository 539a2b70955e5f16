package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/cloudtest"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/reconcile"
	"github.com/roach88/orgsync/internal/source"
	"github.com/roach88/orgsync/internal/store"
	"github.com/roach88/orgsync/internal/testutil"
)

// Start is the fake clock's time when a scenario begins.
var Start = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

const appID = "AK-scenario"

// Harness holds the wired pieces of one scenario execution.
type Harness struct {
	fake    *cloudtest.Server
	store   *store.Store
	clock   *testutil.FakeClock
	svc     *reconcile.Service
	srcPath string
	logger  *zap.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger routes the service logs of a run to l. Runs are silent by
// default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh fake cloud and an in-memory mirror.
// A step whose operation fails records the error in its trace entry and
// the scenario continues; only setup problems are returned as errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	fake := cloudtest.New(appID)
	defer fake.Close()
	for _, d := range scenario.Cloud.Depts {
		if d.Custom {
			fake.SeedCustomDept(d.model())
		} else {
			fake.SeedDept(d.model())
		}
	}
	for _, u := range scenario.Cloud.Users {
		fake.SeedUser(u.model())
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	dir, err := os.MkdirTemp("", "orgsync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		fake:    fake,
		store:   st,
		clock:   testutil.NewFakeClock(Start),
		srcPath: filepath.Join(dir, "source.yaml"),
		logger:  o.logger,
	}
	if err := h.writeSource(scenario.Source); err != nil {
		return nil, err
	}
	src, err := source.Open(h.srcPath, source.WithRootID(scenario.Config.RootID))
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	svcOpts := []reconcile.Option{
		reconcile.WithLogger(o.logger),
		reconcile.WithClock(h.clock.Now),
		reconcile.WithRunIDs(testutil.NewSequenceIDs("run").Next),
	}
	if len(scenario.Ignore) > 0 {
		svcOpts = append(svcOpts, reconcile.WithIgnoreList(ignoreIDs(scenario.Ignore)))
	}
	client := cloud.New(fake.URL(), appID, "scenario-secret",
		cloud.WithPageDelay(0),
		cloud.WithLogger(o.logger),
	)
	h.svc = reconcile.New(scenario.Config.reconcile(), client, st, src, svcOpts...)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		entry, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		entry.Step = i + 1
		result.Trace = append(result.Trace, entry)
	}

	actx := &AssertionContext{Fake: fake, Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step and records the mutations it caused. Errors from
// the operation itself land in the trace; the returned error is reserved
// for harness failures.
func (h *Harness) execute(ctx context.Context, step Step) (StepTrace, error) {
	for _, f := range step.Fail {
		h.fake.FailNext(f.Method, f.Path, f.Code, f.Msg)
	}
	h.fake.ResetCalls()

	entry := StepTrace{Op: step.Op}
	var opErr error
	count := func(n int, err error) {
		entry.Count = &n
		opErr = err
	}

	switch step.Op {
	case OpSync:
		rep, err := h.svc.Sync(ctx)
		entry.Report = &rep
		opErr = err
	case OpPull:
		opErr = h.svc.PullSource(ctx)
	case OpSyncDepts:
		stats, err := h.svc.SyncDepts(ctx)
		entry.Report = &reconcile.Report{Depts: stats}
		opErr = err
	case OpSyncUsers:
		stats, err := h.svc.SyncUsers(ctx)
		entry.Report = &reconcile.Report{Users: stats}
		opErr = err
	case OpSweep:
		count(h.svc.Sweep(ctx))
	case OpTidy:
		count(h.svc.TidyUnassigned(ctx))
	case OpCleanDepts:
		count(h.svc.DeleteEmptyDepts(ctx))
	case OpAdvance:
		if step.Months != 0 {
			h.clock.Set(h.clock.Now().AddDate(0, step.Months, 0))
		}
		if step.Duration != "" {
			d, err := time.ParseDuration(step.Duration)
			if err != nil {
				return entry, err
			}
			h.clock.Advance(d)
		}
	case OpSource:
		if err := h.writeSource(*step.Source); err != nil {
			return entry, err
		}
	case OpExpireTokens:
		h.fake.ExpireTokens()
	default:
		return entry, fmt.Errorf("unknown op %q", step.Op)
	}

	if opErr != nil {
		entry.Error = opErr.Error()
		h.logger.Info("scenario step failed", zap.String("op", step.Op), zap.Error(opErr))
	}
	entry.Mutations = []string{}
	for _, c := range h.fake.Mutations() {
		entry.Mutations = append(entry.Mutations, c.Method+" "+c.Path)
	}
	return entry, nil
}

func (h *Harness) writeSource(snap source.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode source: %w", err)
	}
	if err := os.WriteFile(h.srcPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write source: %w", err)
	}
	return nil
}

type ignoreIDs []string

func (l ignoreIDs) Ignores(context.Context) ([]model.IgnoreEntry, error) {
	out := make([]model.IgnoreEntry, len(l))
	for i, id := range l {
		out[i] = model.IgnoreEntry{ID: id}
	}
	return out, nil
}
