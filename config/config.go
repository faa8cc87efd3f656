package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

const appName = "recordscreen"

// Config keys shared by the CLI flags, environment and config file.
const (
	KeyRemoteHost     = "remote.host"
	KeyRemotePort     = "remote.port"
	KeyRemoteDatagram = "remote.datagram"

	KeyQuality   = "capture.quality"
	KeySource    = "capture.source"
	KeyWidth     = "capture.width"
	KeyHeight    = "capture.height"
	KeyDensity   = "capture.density"
	KeyFrameRate = "capture.fps"
	KeySnapshots = "capture.snapshots"
	KeyDisplay   = "capture.display"
	KeyPadding   = "capture.row_padding"

	KeyRecordOutput = "record.output"
	KeyRecordPreset = "record.preset"
	KeyFFmpegPath   = "encoder.ffmpeg"

	KeyADBSerial = "adb.serial"
	KeyADBPort   = "adb.port"

	KeyServerPort  = "server.port"
	KeyStopTimeout = "session.stop_timeout"
)

var v *viper.Viper

func init() {
	v = viper.New()

	v.SetDefault(KeyRemoteHost, "")
	v.SetDefault(KeyRemotePort, 9876)
	v.SetDefault(KeyRemoteDatagram, true)

	v.SetDefault(KeyQuality, 50)
	v.SetDefault(KeySource, "synthetic")
	v.SetDefault(KeyWidth, 0)
	v.SetDefault(KeyHeight, 0)
	v.SetDefault(KeyDensity, 0)
	v.SetDefault(KeyFrameRate, 10)
	v.SetDefault(KeySnapshots, false)
	v.SetDefault(KeyDisplay, 0)
	v.SetDefault(KeyPadding, 0)

	v.SetDefault(KeyRecordOutput, "")
	v.SetDefault(KeyRecordPreset, "record")
	v.SetDefault(KeyFFmpegPath, "ffmpeg")

	v.SetDefault(KeyADBSerial, "")
	v.SetDefault(KeyADBPort, 5037)

	v.SetDefault(KeyServerPort, 28091)
	v.SetDefault(KeyStopTimeout, 5*time.Second)

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv(KeyRemoteHost, "RECORDSCREEN_REMOTE_HOST")
	v.BindEnv(KeyRemotePort, "RECORDSCREEN_REMOTE_PORT")
	v.BindEnv(KeyQuality, "RECORDSCREEN_QUALITY")
	v.BindEnv(KeySource, "RECORDSCREEN_SOURCE")
	v.BindEnv(KeyFFmpegPath, "FFMPEG_PATH")
	v.BindEnv(KeyADBSerial, "ANDROID_SERIAL")
	v.BindEnv(KeyServerPort, "RECORDSCREEN_SERVER_PORT")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/." + appName,
		"/etc/" + appName,
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

// BindFlag binds a command line flag to a config key so that an explicitly
// set flag wins over env and file values.
func BindFlag(key string, flag *pflag.Flag) {
	if flag == nil {
		return
	}
	_ = v.BindPFlag(key, flag)
}

// Set overrides a value for the current process.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// GetString returns the string value stored under key.
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt returns the int value stored under key.
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetBool returns the bool value stored under key.
func GetBool(key string) bool {
	return v.GetBool(key)
}

// GetDuration returns the duration value stored under key.
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// GetQuality returns the configured compression quality clamped to 1..100.
func GetQuality() int {
	return ClampQuality(v.GetInt(KeyQuality))
}

// ClampQuality pins q into the accepted 1..100 range.
func ClampQuality(q int) int {
	return core.ClampQuality(q)
}

// GetCacheDir returns the directory used for snapshots and default recordings.
func GetCacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// GetRecordOutput returns the recording path, defaulting into the cache dir.
func GetRecordOutput() string {
	if out := v.GetString(KeyRecordOutput); out != "" {
		return out
	}
	return filepath.Join(GetCacheDir(), "screen_record.mp4")
}

// GetSnapshotDir returns where per-frame JPEG snapshots are written.
func GetSnapshotDir() string {
	return filepath.Join(GetCacheDir(), "snapshots")
}
