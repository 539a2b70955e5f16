package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/cloud"
	"github.com/roach88/orgsync/internal/config"
	"github.com/roach88/orgsync/internal/logging"
	"github.com/roach88/orgsync/internal/model"
	"github.com/roach88/orgsync/internal/reconcile"
	"github.com/roach88/orgsync/internal/source"
	"github.com/roach88/orgsync/internal/store"
)

// needs selects what openApp wires besides config, logger and store.
type needs uint8

const (
	needCloud needs = 1 << iota
	needSource
)

// app is the wired process for one command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	client  *cloud.Client
	svc     *reconcile.Service
	closers []func() error
}

func openApp(opts *RootOptions, n needs) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, closeLog)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open mirror", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if n&(needCloud|needSource) == 0 {
		return a, nil
	}

	if cfg.Cloud.AppID == "" || cfg.Cloud.AppKey == "" {
		a.Close()
		return nil, NewExitError(ExitCommandError, "cloud.app_id and cloud.app_key must be set")
	}
	cloudOpts := []cloud.Option{
		cloud.WithLogger(logger.Named("cloud")),
		cloud.WithPageSize(cfg.Cloud.PageSize),
		cloud.WithPageDelay(cfg.Cloud.PageDelay),
	}
	if cfg.Cloud.RateLimit > 0 {
		cloudOpts = append(cloudOpts, cloud.WithRateLimit(cfg.Cloud.RateLimit, cfg.Cloud.RateBurst()))
	}
	a.client = cloud.New(cfg.Cloud.BaseURL, cfg.Cloud.AppID, cfg.Cloud.AppKey, cloudOpts...)

	var src reconcile.Source
	if n&needSource != 0 {
		if cfg.Source.Path == "" {
			a.Close()
			return nil, NewExitError(ExitCommandError, "source.path must be set")
		}
		fs, err := source.Open(cfg.Source.Path, source.WithRootID(cfg.Sync.RootID))
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open source", err)
		}
		src = fs
	}

	svcOpts := []reconcile.Option{
		reconcile.WithLogger(logger.Named("reconcile")),
		reconcile.WithHooks(auditHooks{logger: logger.Named("audit")}),
	}
	if cfg.Source.IgnoreFile != "" {
		svcOpts = append(svcOpts, reconcile.WithIgnoreList(source.NewIgnoreFile(cfg.Source.IgnoreFile)))
	}
	a.svc = reconcile.New(reconcile.Config{
		RootID:                cfg.Sync.RootID,
		NoAddUser:             cfg.Sync.NoAddUser,
		NoAddDept:             cfg.Sync.NoAddDept,
		BindByName:            cfg.Sync.BindByName,
		DeptNameStep:          cfg.Sync.DeptNameStep,
		MembershipConcurrency: cfg.Sync.MembershipConcurrency,
		RetentionMonths:       cfg.Staging.RetentionMonths,
	}, a.client, a.store, src, svcOpts...)
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// auditHooks records every change a run makes in the log.
type auditHooks struct {
	logger *zap.Logger
}

func (h auditHooks) AfterAdd(_ context.Context, users []model.SourceUser) {
	for _, u := range users {
		h.logger.Info("user added", zap.String("id", u.ID), zap.String("name", u.Name))
	}
}

func (h auditHooks) AfterEdit(_ context.Context, u model.SourceUser, patch cloud.UserFields) {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	h.logger.Info("user edited", zap.String("id", u.ID), zap.Strings("fields", keys))
}

func (h auditHooks) AfterStage(_ context.Context, users []model.CloudUser) {
	for _, u := range users {
		h.logger.Info("user staged for deletion", zap.String("id", u.ThirdUnionID), zap.String("name", u.Name))
	}
}

func (h auditHooks) AfterDelete(_ context.Context, rec model.StagedDeletion) {
	h.logger.Info("user deleted", zap.String("id", rec.ID), zap.String("cloud_id", rec.CloudID))
}
