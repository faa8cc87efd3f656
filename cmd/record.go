package cmd

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/config"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/encoder"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/session"
)

// NewRecordCommand creates the record command.
func NewRecordCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the screen into an MP4 file",
		Long: `Record the screen as H.264 into a fragmented MP4 file.

Frames are encoded by ffmpeg. On stop the encoder is drained so the last frames
reach the file before it is finalized.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			preset, err := encoder.PresetByName(config.GetString(config.KeyRecordPreset))
			if err != nil {
				return errors.Wrap(err, "invalid preset")
			}

			ctrl, err := newController(nil)
			if err != nil {
				return err
			}

			req := session.StartRequest{
				Grant:  core.GrantRequest{ResultCode: core.ResultOK},
				Mode:   session.ModeRecord,
				Output: config.GetRecordOutput(),
				Preset: preset,
			}
			if cmd.Flags().Changed("fps") {
				req.FrameRate = config.GetInt(config.KeyFrameRate)
			}

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			if err := runSession(ctx, ctrl, req); err != nil {
				return err
			}
			color.Green("Recording written to %s", req.Output)
			return nil
		},
		Example: `  # Record ten seconds of the synthetic pattern
  recordscreen record -o pattern.mp4 --duration 10s

  # Record an Android device with the low bandwidth preset
  recordscreen record --source adb --serial emulator-5554 --preset live`,
	}

	addSourceFlags(cmd)
	addRecordFlags(cmd)
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 records until interrupted)")

	return cmd
}
