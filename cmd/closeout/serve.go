package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/closeout/internal/digest"
	"github.com/zulandar/closeout/internal/server"
	"github.com/zulandar/closeout/internal/session"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operator HTTP API",
		Long:  "Serves the session and ticket API and, when configured, posts the periodic digest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to closeout config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, gormDB, nil)
	if err != nil {
		return err
	}
	sessions, err := session.NewManager(a.machine)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = cfg.Server.Port
	}

	sched, err := buildScheduler(a, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx, server.Opts{
			Sessions: sessions,
			Tickets:  a.store,
			Port:     port,
			Out:      cmd.OutOrStdout(),
		})
	})
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}

	return g.Wait()
}

// buildScheduler returns the digest scheduler, or nil when no digest is
// configured. It must run before the server goroutine starts.
func buildScheduler(a *app, errOut io.Writer) (*digest.Scheduler, error) {
	if a.cfg.Digest.Schedule == "" {
		return nil, nil
	}
	if a.notifier == nil {
		fmt.Fprintln(errOut, "digest.schedule is set but no notify channel is configured; digest disabled")
		return nil, nil
	}
	return digest.NewScheduler(digest.SchedulerOpts{
		Source:   a.store,
		Notifier: a.notifier,
		Schedule: a.cfg.Digest.Schedule,
		Window:   a.cfg.Digest.Window,
	})
}
