package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/version"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "recordscreen",
		Short: "Screen capture, streaming and recording tool",
		Long: `recordscreen captures a screen (an Android device over adb, a local display or a
synthetic test pattern) and either streams it as JPEG frames over UDP or TCP, or
records it as H.264 into a fragmented MP4 file.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Println(version.String())
				return nil
			}
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(NewMonitorCommand())
	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewReceiveCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
