package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/orgsync/internal/api"
	"github.com/roach88/orgsync/internal/scheduler"
	"github.com/roach88/orgsync/internal/webhook"
)

// Task names used by serve.
const (
	taskSync  = "sync"
	taskClean = "clean-depts"
)

const shutdownTimeout = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	RunNow bool

	// ready, when set, receives the bound listener address once serving.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and the HTTP surface",
		Long: `Run the sync on sync.cron and the empty-department cleanup on
sync.clean_cron, and serve the address book and subscription callback on
http.addr. A failed run is retried once after sync.retry_delay.

Example:
  orgsync serve --config ./orgsync.yaml
  orgsync serve --run-now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.RunNow, "run-now", false, "start a sync immediately")

	return cmd
}

func serve(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := openApp(opts.RootOptions, needSource)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := scheduler.NewRunner(
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithRetryDelay(a.cfg.Sync.RetryDelay),
	)
	syncTask := func(ctx context.Context) error {
		_, err := a.svc.Sync(ctx)
		return err
	}
	cleanTask := func(ctx context.Context) error {
		_, err := a.svc.DeleteEmptyDepts(ctx)
		return err
	}

	sched := scheduler.New(ctx, runner, logger.Named("cron"))
	if spec := a.cfg.Sync.Cron; spec != "" {
		if err := sched.Add(spec, taskSync, syncTask); err != nil {
			return WrapExitError(ExitCommandError, "invalid sync.cron", err)
		}
	}
	if spec := a.cfg.Sync.CleanCron; spec != "" {
		if err := sched.Add(spec, taskClean, cleanTask); err != nil {
			return WrapExitError(ExitCommandError, "invalid sync.clean_cron", err)
		}
	}

	dispatcher := webhook.NewDispatcher(a.cfg.Cloud.AppID, a.cfg.Cloud.AppKey, logger.Named("webhook"))
	audit := func(_ context.Context, topic, operation string, data webhook.Data) error {
		logger.Info("cloud directory changed",
			zap.String("topic", topic),
			zap.String("operation", operation),
			zap.ByteString("dest", data.Dest))
		return nil
	}
	for _, op := range []string{webhook.OpCreate, webhook.OpUpdate, webhook.OpDelete} {
		dispatcher.Handle(webhook.TopicDept, op, audit)
		dispatcher.Handle(webhook.TopicMember, op, audit)
	}
	dispatcher.Handle(webhook.TopicMemberStatus, webhook.OpUpdate, audit)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Config{
		Mirror:     a.store,
		Token:      a.cfg.AddressBook.Token,
		Dispatcher: dispatcher,
		Logger:     logger.Named("http"),
		Status: func() map[string]string {
			return map[string]string{
				taskSync:  runner.State(taskSync).String(),
				taskClean: runner.State(taskClean).String(),
			}
		},
	})

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	sched.Start()
	if opts.RunNow {
		go runner.Run(ctx, taskSync, syncTask)
	}

	logger.Info("serving", zap.String("addr", ln.Addr().String()), zap.Int("scheduled", sched.Entries()))
	fmt.Fprintf(cmd.OutOrStdout(), "orgsync serving on %s\n", ln.Addr())
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "http server failed", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return runErr
}
