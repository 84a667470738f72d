package camrec

import (
	"log/slog"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/config"
	"github.com/abihf/camrec/storage"
	"github.com/abihf/camrec/writer"
	"github.com/pkg/errors"
)

// NewFromConfig builds a Recorder over a V4L2 webcam writing files.
func NewFromConfig(conf *config.Config, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path, err := capture.ResolveDevice(conf.Device)
	if err != nil {
		return nil, errors.Wrap(err, "Can not resolve device")
	}

	controls, err := cameraControls(conf)
	if err != nil {
		return nil, err
	}

	src := &capture.Webcam{
		Path:      path,
		Width:     conf.Width,
		Height:    conf.Height,
		Format:    capture.PixelFormat(conf.PixelFormat),
		Framerate: float32(conf.Framerate),
		SkipDark:  conf.SkipDarkFrames,
		Controls:  controls,
		Logger:    logger,
	}
	dev := capture.NewDevice(src, &capture.Option{
		Device:    path,
		Framerate: conf.Framerate,
		PinCore:   conf.CaptureCore >= 0,
		Core:      conf.CaptureCore,
		Logger:    logger,
	})
	pool := writer.New(storage.NewFiles(), &writer.Option{
		Workers:   conf.WriterThreads,
		QueueSize: conf.WriterQueueSize,
		Logger:    logger,
	})

	return New(dev, pool,
		WithLogger(logger),
		WithOutputDir(conf.OutputDir),
		WithSingleShotTimeout(conf.SingleShotTimeoutDuration()),
	), nil
}

// cameraControls merges the configured setting with explicit controls and
// zoom, pan and tilt, later sources winning.
func cameraControls(conf *config.Config) (map[string]int32, error) {
	controls := map[string]int32{}
	set := func(name string, value int32) error {
		if err := capture.ValidateControl(name, value); err != nil {
			return errors.Wrap(err, "Invalid camera control in config")
		}
		controls[capture.ControlKey(name)] = value
		return nil
	}

	if conf.SettingsFile != "" {
		values, err := capture.LoadSettings(conf.SettingsFile, conf.Setting)
		if err != nil {
			return nil, err
		}
		for name, value := range values {
			if err := set(name, value); err != nil {
				return nil, err
			}
		}
	}
	for name, value := range conf.Controls {
		if err := set(name, value); err != nil {
			return nil, err
		}
	}
	for name, value := range map[string]*int32{
		capture.ControlZoom: conf.Zoom,
		capture.ControlPan:  conf.Pan,
		capture.ControlTilt: conf.Tilt,
	} {
		if value == nil {
			continue
		}
		if err := set(name, *value); err != nil {
			return nil, err
		}
	}
	return controls, nil
}
