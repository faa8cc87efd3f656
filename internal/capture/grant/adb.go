package grant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	adb "github.com/basiooo/goadb"
	"github.com/pkg/errors"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/util"
)

// ADBConfig selects the adb server and device.
type ADBConfig struct {
	// Serial of the device to capture. A grant request carrying data
	// overrides it; when both are empty the first attached device is used.
	Serial string
	// Port of the adb server, adb.AdbPort when zero.
	Port int
}

// ADB grants access to an Android device screen through adb. The grant is
// revoked when the device leaves the online state.
type ADB struct {
	cfg    ADBConfig
	logger *slog.Logger
}

// NewADB creates an adb requester.
func NewADB(cfg ADBConfig, logger *slog.Logger) *ADB {
	if cfg.Port == 0 {
		cfg.Port = adb.AdbPort
	}
	if logger == nil {
		logger = util.GetLogger()
	}
	return &ADB{cfg: cfg, logger: logger}
}

// RequestCapture implements core.Requester.
func (a *ADB) RequestCapture(ctx context.Context, req core.GrantRequest) (core.Grant, error) {
	if req.ResultCode != core.ResultOK {
		return nil, fmt.Errorf("%w: result code %d", core.ErrGrantDenied, req.ResultCode)
	}

	client, err := adb.NewWithConfig(adb.ServerConfig{
		Port: a.cfg.Port,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create adb client on port %d", a.cfg.Port)
	}

	serial := strings.TrimSpace(string(req.Data))
	if serial == "" {
		serial = a.cfg.Serial
	}
	if serial == "" {
		serials, err := client.ListDeviceSerials()
		if err != nil {
			return nil, errors.Wrap(err, "failed to list adb devices")
		}
		if len(serials) == 0 {
			return nil, fmt.Errorf("%w: no adb device attached", core.ErrGrantDenied)
		}
		serial = serials[0]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device := client.Device(adb.DeviceWithSerial(serial))
	display, err := queryDisplay(device)
	if err != nil {
		return nil, fmt.Errorf("%w: device %s: %v", core.ErrGrantDenied, serial, err)
	}
	logger := a.logger.With("serial", serial)
	logger.Info("Android display", "width", display.Width, "height", display.Height, "density", display.Density)

	g := newBaseGrant("adb", display, func() (*core.RawFrame, error) {
		out, err := device.RunCommand("screencap")
		if err != nil {
			return nil, errors.Wrap(err, "screencap failed")
		}
		return parseScreencap([]byte(out))
	}, logger)

	watcher := client.NewDeviceWatcher()
	g.onCleanup(watcher.Shutdown)
	go func() {
		for event := range watcher.C() {
			if event.Serial != serial {
				continue
			}
			logger.Debug("Device event", "old", event.OldState, "new", event.NewState)
			if event.NewState != adb.StateOnline {
				// Revoke runs the session teardown, which shuts this watcher down.
				go g.Revoke()
			}
		}
		if err := watcher.Err(); err != nil {
			logger.Warn("adb device watcher stopped", "error", err)
		}
	}()

	return g, nil
}

type commandRunner interface {
	RunCommand(cmd string, args ...string) (string, error)
}

func queryDisplay(device commandRunner) (core.DisplayInfo, error) {
	sizeOut, err := device.RunCommand("wm", "size")
	if err != nil {
		return core.DisplayInfo{}, errors.Wrap(err, "wm size failed")
	}
	width, height, err := parseWMSize(sizeOut)
	if err != nil {
		return core.DisplayInfo{}, err
	}

	density := DefaultDensity
	if densityOut, err := device.RunCommand("wm", "density"); err == nil {
		if d, err := parseWMDensity(densityOut); err == nil {
			density = d
		}
	}
	return core.DisplayInfo{Width: width, Height: height, Density: density}, nil
}
