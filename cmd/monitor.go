package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/config"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/transport"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand() *cobra.Command {
	var snapshots bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream the screen as JPEG frames to a remote endpoint",
		Long: `Stream the screen as JPEG frames to a remote endpoint.

Each frame is framed as "==IMAGE START==", body chunks of at most 10240 bytes and
"==IMAGE END==". Frames produced while the previous one is still being sent are
dropped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := transport.New(core.TransportConfig{}, transport.WithLogger(util.Component("transport")))
			defer tr.Close()

			ctrl, err := newController(tr)
			if err != nil {
				return err
			}

			req := session.StartRequest{
				Grant:     core.GrantRequest{ResultCode: core.ResultOK},
				Mode:      session.ModeMonitor,
				Transport: transportConfig(),
				FrameRate: config.GetInt(config.KeyFrameRate),
			}
			if req.Transport.RemoteHost == "" {
				return errors.New("remote host is required, use --host")
			}
			if snapshots || config.GetBool(config.KeySnapshots) {
				req.SnapshotDir = config.GetSnapshotDir()
			}
			return runSession(cmd.Context(), ctrl, req)
		},
		Example: `  # Stream a synthetic pattern to a local receiver
  recordscreen monitor --host 127.0.0.1 --port 9876

  # Stream an Android device over TCP at quality 80
  recordscreen monitor --source adb --host 192.168.1.20 --udp=false --quality 80`,
	}

	addSourceFlags(cmd)
	addTransportFlags(cmd)
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "Also write every frame as a JPEG into the cache dir")

	return cmd
}
