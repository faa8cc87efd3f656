package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/config"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/transport"
	api "github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/server"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// NewServeCommand creates the serve command, which exposes capture control
// over HTTP.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the capture control API",
		Long: `Serve the capture control API.

  POST /api/capture/start   start a monitor or record session
  POST /api/capture/stop    stop the current session
  GET  /api/capture/status  current state and counters
  GET  /api/capture/events  WebSocket stream of lifecycle events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		Example: `  # Serve on the default port with a synthetic source
  recordscreen serve

  # Serve an Android device on port 8080
  recordscreen serve --source adb -p 8080`,
	}

	addSourceFlags(cmd)
	addTransportFlags(cmd)
	addRecordFlags(cmd)
	cmd.Flags().IntP("server-port", "p", config.GetInt(config.KeyServerPort), "Server port")
	bindFlags(cmd, map[string]string{"server-port": config.KeyServerPort})

	return cmd
}

func runServe(ctx context.Context) error {
	tr := transport.New(core.TransportConfig{}, transport.WithLogger(util.Component("transport")))
	defer tr.Close()

	ctrl, err := newController(tr)
	if err != nil {
		return err
	}

	defaults := api.Defaults{
		Transport: transportConfig(),
		Output:    config.GetRecordOutput(),
		Preset:    config.GetString(config.KeyRecordPreset),
		FrameRate: config.GetInt(config.KeyFrameRate),
	}
	if config.GetBool(config.KeySnapshots) {
		defaults.SnapshotDir = config.GetSnapshotDir()
	}
	srv := api.NewServer(config.GetInt(config.KeyServerPort), ctrl, defaults, util.GetLogger())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		return errors.Wrap(err, "failed to start server")
	}
	color.Green("Capture API listening on %s, press Ctrl+C to stop", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(config.KeyStopTimeout))
		defer cancel()
		if err := ctrl.Stop(stopCtx); err != nil {
			return errors.Wrap(err, "failed to stop capture session")
		}
		return nil
	})
	g.Go(func() error {
		events := ctrl.Events().Subscribe("serve", 32)
		defer ctrl.Events().Unsubscribe("serve")
		logEvents(gctx, events)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	color.Cyan("Server stopped")
	return nil
}

// logEvents reports session events until ctx ends or the subscription is
// closed.
func logEvents(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case session.EventStateChanged:
				util.GetLogger().Info("Session state changed", "session", ev.SessionID, "state", ev.State)
			case session.EventStopped:
				printStopped(ev)
			}
		}
	}
}
