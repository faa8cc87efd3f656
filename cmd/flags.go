package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/config"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/encoder"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/grant"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/transport"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// Capture sources selectable with --source.
const (
	sourceSynthetic = "synthetic"
	sourceDesktop   = "desktop"
	sourceADB       = "adb"
)

// bindFlags binds the named flags of cmd to their config keys once cmd
// runs. Several commands share keys, so binding at registration time would
// leave only the last command's flags bound.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	prev := cmd.PreRunE
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		if prev != nil {
			if err := prev(c, args); err != nil {
				return err
			}
		}
		for name, key := range keys {
			config.BindFlag(key, c.Flags().Lookup(name))
		}
		return nil
	}
}

// addSourceFlags registers the flags selecting what is captured.
func addSourceFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("source", config.GetString(config.KeySource), "Capture source: synthetic, desktop or adb")
	flags.String("serial", "", "Android device serial (adb source)")
	flags.Int("adb-port", config.GetInt(config.KeyADBPort), "adb server port (adb source)")
	flags.Int("display", 0, "Display index (desktop source)")
	flags.Int("width", 0, "Pattern width (synthetic source)")
	flags.Int("height", 0, "Pattern height (synthetic source)")
	flags.Int("row-padding", 0, "Extra bytes per pattern row (synthetic source)")
	flags.Int("fps", config.GetInt(config.KeyFrameRate), "Frames rendered per second")

	bindFlags(cmd, map[string]string{
		"source":      config.KeySource,
		"serial":      config.KeyADBSerial,
		"adb-port":    config.KeyADBPort,
		"display":     config.KeyDisplay,
		"width":       config.KeyWidth,
		"height":      config.KeyHeight,
		"row-padding": config.KeyPadding,
		"fps":         config.KeyFrameRate,
	})
}

// addTransportFlags registers the remote endpoint flags.
func addTransportFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("host", config.GetString(config.KeyRemoteHost), "Remote host receiving frames")
	flags.Uint16("port", uint16(config.GetInt(config.KeyRemotePort)), "Remote port receiving frames")
	flags.Bool("udp", config.GetBool(config.KeyRemoteDatagram), "Send datagrams (UDP) instead of a stream (TCP)")
	flags.Int("quality", config.GetInt(config.KeyQuality), "JPEG quality, 1-100")

	bindFlags(cmd, map[string]string{
		"host":    config.KeyRemoteHost,
		"port":    config.KeyRemotePort,
		"udp":     config.KeyRemoteDatagram,
		"quality": config.KeyQuality,
	})
}

// addRecordFlags registers the recording flags.
func addRecordFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("output", "o", "", "Output MP4 file (default in the cache dir)")
	flags.String("preset", config.GetString(config.KeyRecordPreset), "Encoder preset: record or live")
	flags.String("ffmpeg", config.GetString(config.KeyFFmpegPath), "ffmpeg binary")

	bindFlags(cmd, map[string]string{
		"output": config.KeyRecordOutput,
		"preset": config.KeyRecordPreset,
		"ffmpeg": config.KeyFFmpegPath,
	})
}

// transportConfig builds the endpoint configuration from config values.
func transportConfig() core.TransportConfig {
	return core.TransportConfig{
		RemoteHost:  config.GetString(config.KeyRemoteHost),
		RemotePort:  uint16(config.GetInt(config.KeyRemotePort)),
		UseDatagram: config.GetBool(config.KeyRemoteDatagram),
		Quality:     config.GetQuality(),
	}
}

// newRequester returns the grant requester for the configured source.
func newRequester(source string) (core.Requester, error) {
	switch source {
	case sourceSynthetic:
		return grant.NewSynthetic(grant.SyntheticConfig{
			Width:      config.GetInt(config.KeyWidth),
			Height:     config.GetInt(config.KeyHeight),
			Density:    config.GetInt(config.KeyDensity),
			RowPadding: config.GetInt(config.KeyPadding),
		}, util.Component("grant")), nil
	case sourceDesktop:
		return grant.NewDesktop(config.GetInt(config.KeyDisplay), util.Component("grant")), nil
	case sourceADB:
		return grant.NewADB(grant.ADBConfig{
			Serial: config.GetString(config.KeyADBSerial),
			Port:   config.GetInt(config.KeyADBPort),
		}, util.Component("grant")), nil
	default:
		return nil, errors.Errorf("unknown capture source %q", source)
	}
}

// newController wires a session controller for the configured source.
func newController(tr *transport.Transport) (*session.Controller, error) {
	requester, err := newRequester(config.GetString(config.KeySource))
	if err != nil {
		return nil, err
	}
	ffmpeg := config.GetString(config.KeyFFmpegPath)
	return session.NewController(session.Options{
		Requester: requester,
		Transport: tr,
		NewEncoder: func() core.Encoder {
			return encoder.NewFFmpegEncoder(ffmpeg, util.Component("encoder"))
		},
		StopTimeout: config.GetDuration(config.KeyStopTimeout),
		Logger:      util.GetLogger(),
	}), nil
}

// runSession starts req and blocks until the session ends on its own or the
// process is interrupted.
func runSession(ctx context.Context, ctrl *session.Controller, req session.StartRequest) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	const subscriber = "cli"
	events := ctrl.Events().Subscribe(subscriber, 32)
	defer ctrl.Events().Unsubscribe(subscriber)

	if err := ctrl.Start(ctx, req); err != nil {
		return errors.Wrap(err, "failed to start capture")
	}
	if st := ctrl.Status(); st.Display != nil {
		color.Green("Capturing %dx%d (%s), press Ctrl+C to stop", st.Display.Width, st.Display.Height, req.Mode)
	}

	sp := newUISpinner(fmt.Sprintf("%s in progress", req.Mode))
	defer sp.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sp.Stop()
			fmt.Println("Stopping capture...")
			stopCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(config.KeyStopTimeout)+time.Second)
			err := ctrl.Stop(stopCtx)
			cancel()
			drainStopped(events)
			if err != nil {
				return errors.Wrap(err, "failed to stop capture")
			}
			return nil
		case <-ticker.C:
			if st := ctrl.Status(); st.Stats != nil && st.StartedAt != nil {
				sp.Update(progressLine(req.Mode, *st.Stats, time.Since(*st.StartedAt)))
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case session.EventWarning:
				sp.Stop()
				color.Yellow("Warning: %s", ev.Message)
			case session.EventStopped:
				sp.Stop()
				printStopped(ev)
				if ev.Reason == session.ReasonRevoked {
					return errors.Wrap(core.ErrGrantRevoked, "capture ended")
				}
				return nil
			}
		}
	}
}

func progressLine(mode session.Mode, stats session.Stats, elapsed time.Duration) string {
	elapsed = elapsed.Round(time.Second)
	if mode == session.ModeRecord {
		return fmt.Sprintf("recording %s, %d samples, %d KiB", elapsed, stats.Strategy.SamplesWritten, stats.Strategy.BytesWritten/1024)
	}
	line := fmt.Sprintf("monitoring %s, %d frames", elapsed, stats.Strategy.FramesProcessed)
	if stats.Transport != nil {
		line += fmt.Sprintf(", %d sent, %d dropped", stats.Transport.Sent, stats.Transport.Dropped)
	}
	return line
}

func drainStopped(events <-chan session.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == session.EventStopped {
				printStopped(ev)
				return
			}
		default:
			return
		}
	}
}

func printStopped(ev session.Event) {
	color.Cyan("Capture stopped (%s)", ev.Reason)
	if ev.Stats == nil {
		return
	}
	s := ev.Stats.Strategy
	fmt.Printf("  frames processed: %d, dropped: %d, failed: %d\n", s.FramesProcessed, s.FramesDropped, s.FramesFailed)
	if s.SamplesWritten > 0 {
		fmt.Printf("  samples written: %d (%d bytes)\n", s.SamplesWritten, s.BytesWritten)
	}
	if t := ev.Stats.Transport; t != nil {
		fmt.Printf("  payloads sent: %d, dropped: %d, chunk errors: %d\n", t.Sent, t.Dropped, t.ChunkErrors)
	}
	if ev.Message != "" {
		color.Yellow("  %s", ev.Message)
	}
}
