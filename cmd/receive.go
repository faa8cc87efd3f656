package cmd

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/transport"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// NewReceiveCommand creates the receive command, a monitoring endpoint for
// the monitor command.
func NewReceiveCommand() *cobra.Command {
	var (
		listen  string
		udp     bool
		saveDir string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive frames sent by the monitor command",
		RunE: func(cmd *cobra.Command, args []string) error {
			if saveDir != "" {
				if err := os.MkdirAll(saveDir, 0o755); err != nil {
					return errors.Wrapf(err, "failed to create %s", saveDir)
				}
			}

			var count atomic.Int64
			handler := func(payload []byte, from net.Addr) {
				n := count.Add(1)
				cfg, err := jpeg.DecodeConfig(bytes.NewReader(payload))
				if err != nil {
					color.Yellow("#%d from %s: %d bytes, not a JPEG: %v", n, from, len(payload), err)
					return
				}
				fmt.Printf("#%d from %s: %dx%d, %d bytes\n", n, from, cfg.Width, cfg.Height, len(payload))
				if saveDir == "" {
					return
				}
				path := filepath.Join(saveDir, fmt.Sprintf("frame_%06d.jpg", n))
				if err := os.WriteFile(path, payload, 0o644); err != nil {
					color.Red("Failed to save %s: %v", path, err)
				}
			}

			network := "tcp"
			if udp {
				network = "udp"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := transport.NewReceiver(network, listen, handler, util.Component("receiver"))
			addr, err := r.Start(ctx)
			if err != nil {
				return errors.Wrapf(err, "failed to listen on %s/%s", network, listen)
			}
			color.Green("Listening on %s/%s, press Ctrl+C to stop", network, addr)

			<-ctx.Done()
			if err := r.Close(); err != nil {
				return errors.Wrap(err, "failed to close receiver")
			}
			fmt.Printf("Received %d frames\n", count.Load())
			return nil
		},
		Example: `  # Receive datagrams on the default port
  recordscreen receive

  # Receive over TCP and keep every frame
  recordscreen receive --udp=false --save-dir ./frames`,
	}

	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", ":9876", "Address to listen on")
	flags.BoolVar(&udp, "udp", true, "Receive datagrams (UDP) instead of streams (TCP)")
	flags.StringVar(&saveDir, "save-dir", "", "Directory to write received frames into")

	return cmd
}
