package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/accountdesk/accountdesk/pkg/account"
	"github.com/accountdesk/accountdesk/pkg/api"
	"github.com/accountdesk/accountdesk/pkg/audit"
	"github.com/accountdesk/accountdesk/pkg/dispatch"
	"github.com/accountdesk/accountdesk/pkg/identity"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/ratelimit"
	"github.com/accountdesk/accountdesk/pkg/store"
	"github.com/accountdesk/accountdesk/pkg/telemetry"
	"github.com/accountdesk/accountdesk/pkg/version"
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the account API and run the mail dispatch scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rt)
		},
	}
	cmd.Flags().BoolVar(&rt.flags.Migrate, "migrate", rt.flags.Migrate, "Apply the database schema on startup (ACCOUNTDESK_MIGRATE)")
	cmd.Flags().BoolVar(&rt.flags.DisableDispatch, "disable-dispatch", rt.flags.DisableDispatch,
		"Do not run the dispatch scheduler in this process, e.g. when a cron job runs `accountdesk dispatch` (ACCOUNTDESK_DISABLE_DISPATCH)")
	return cmd
}

func runServe(ctx context.Context, rt *runtimeState) error {
	cfg, log := rt.cfg, rt.log
	log.Infow("Starting accountdesk", version.GetBuildInfo().LogFields()...)

	stopTracing, err := startTracing(ctx, rt, "serve")
	if err != nil {
		return err
	}
	defer stopTracing()

	st, err := store.Open(ctx, cfg.Store, rt.flags.Migrate, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	outbox := mail.NewOutbox(st, log)
	provider, err := identity.NewFromConfig(ctx, cfg, st, outbox, log)
	if err != nil {
		return fmt.Errorf("setting up identity provider: %w", err)
	}

	auditManager, err := audit.NewFromConfig(cfg.Audit, rt.zl)
	if err != nil {
		return fmt.Errorf("setting up audit: %w", err)
	}
	defer func() {
		if err := auditManager.Close(); err != nil {
			log.Warnw("Failed to close audit sinks", "error", err)
		}
	}()
	if err := auditManager.EmitSync(ctx, systemEvent(audit.EventSystemStartup)); err != nil {
		log.Warnw("Audit sink rejected the startup event", "error", err)
	}

	limits := ratelimit.ConfigFrom(cfg.RateLimit)
	limiter := ratelimit.New(limits)
	defer limiter.Stop()
	sessionLimiter := ratelimit.NewAuthenticated(ratelimit.DefaultAuthenticatedConfig(limits))
	defer sessionLimiter.Stop()

	server := api.NewServer(rt.zl, cfg, rt.flags.Debug)
	err = server.RegisterAll([]api.APIController{
		account.NewController(provider, outbox, account.Options{
			BaseURL:        cfg.Frontend.BaseURL,
			BrandingName:   cfg.Frontend.BrandingName,
			Limiter:        limiter.Middleware(),
			SessionLimiter: sessionLimiter.Middleware(),
			Audit:          auditManager,
		}, log),
	})
	if err != nil {
		return fmt.Errorf("registering controllers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Dispatch.Disabled || rt.flags.DisableDispatch {
		log.Info("Mail dispatch scheduler disabled in this process")
	} else {
		scheduler, err := newScheduler(rt, st)
		if err != nil {
			return err
		}
		scheduler.OnCycle = func(r dispatch.Report) {
			auditManager.DispatchCycle(context.Background(), r.Result(), r.Queried, r.Sent, r.Failed, errors.Join(r.QueryErr, r.CommitErr))
		}
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.Listen(gctx)
	})

	err = g.Wait()
	auditManager.Emit(context.WithoutCancel(ctx), systemEvent(audit.EventSystemShutdown))
	log.Info("accountdesk stopped")
	return err
}

func newScheduler(rt *runtimeState, st store.MailStore) (*dispatch.Scheduler, error) {
	interval, err := rt.cfg.DispatchInterval()
	if err != nil {
		return nil, err
	}
	sender := mail.NewSender(rt.cfg.SMTP, rt.log)
	worker := dispatch.NewWorker(st, sender, dispatch.ConfigFrom(rt.cfg), rt.log)
	return dispatch.NewScheduler(worker, interval, rt.log), nil
}

// startTracing installs the tracer provider; the returned func flushes it.
func startTracing(ctx context.Context, rt *runtimeState, component string) (func(), error) {
	_, shutdown, err := telemetry.Init(ctx, telemetry.OptionsFrom(rt.cfg.Telemetry, component, rt.log))
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			rt.log.Warnw("Failed to flush traces", "error", err)
		}
	}, nil
}

func systemEvent(t audit.EventType) *audit.Event {
	return &audit.Event{
		Type:   t,
		Actor:  audit.Actor{User: "system"},
		Target: audit.Target{Kind: "service", Name: "accountdesk"},
	}
}
