package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

var (
	errFrameTimeout = errors.New("frame wait timed out")
	errEmptyFrame   = errors.New("empty frame")
	errPoorExposure = errors.New("frame has poor black level")
)

// Webcam is a V4L2 Source.
type Webcam struct {
	Path      string
	Width     int
	Height    int
	Format    PixelFormat
	Framerate float32

	// Timeout is the number of seconds to wait for one frame.
	Timeout uint32

	// SkipDark reports frames with a poor black level as failed
	// acquisitions. Only raw luma formats are checked.
	SkipDark bool

	// Controls are applied on every Open, keyed like v4l2-ctl names
	// (brightness, zoom_absolute, ...).
	Controls map[string]int32

	Logger *slog.Logger

	// mu guards cam and Controls against SetControl.
	mu  sync.Mutex
	cam *webcam.Webcam
}

func (w *Webcam) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cam != nil {
		return nil
	}
	cam, err := webcam.Open(w.Path)
	if err != nil {
		return errors.Wrap(err, "Can not open device")
	}

	if err := w.configure(cam); err != nil {
		cam.Close()
		return err
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return errors.Wrap(err, "Can not start streaming")
	}
	w.cam = cam
	w.applyControls()
	return nil
}

// SetControl validates and stores a control value and applies it right away
// when the camera is open.
func (w *Webcam) SetControl(name string, value int32) error {
	if err := ValidateControl(name, value); err != nil {
		return err
	}
	key := ControlKey(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Controls == nil {
		w.Controls = map[string]int32{}
	}
	w.Controls[key] = value
	if w.cam == nil {
		return nil
	}
	return w.setControl(key, value)
}

// applyControls sets every stored control. Failures are logged, the camera
// stays usable with driver defaults. mu must be held.
func (w *Webcam) applyControls() {
	for name, value := range w.Controls {
		if err := w.setControl(name, value); err != nil {
			w.logger().Warn("Can not set camera control", "device", w.Path, "control", name, "value", value, "error", err)
		}
	}
}

// setControl looks the control up by its v4l2-ctl name. mu must be held.
func (w *Webcam) setControl(key string, value int32) error {
	for id, ctl := range w.cam.GetControls() {
		if ControlKey(ctl.Name) != key {
			continue
		}
		if value < ctl.Min || value > ctl.Max {
			return errors.Wrapf(ErrInvalidControl, "%s has to be between %d and %d, got %d", key, ctl.Min, ctl.Max, value)
		}
		return errors.Wrapf(w.cam.SetControl(id, value), "Can not set %s", key)
	}
	return errors.Wrapf(ErrUnknownControl, "%s on %s", key, w.Path)
}

func (w *Webcam) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func (w *Webcam) configure(cam *webcam.Webcam) error {
	format := w.Format
	if format == "" {
		format = FormatMJPG
	}
	code := webcam.PixelFormat(format.FourCC())
	if _, ok := cam.GetSupportedFormats()[code]; !ok {
		return errors.Errorf("Pixel format %s not supported by %s", format, w.Path)
	}

	_, width, height, err := cam.SetImageFormat(code, uint32(w.Width), uint32(w.Height))
	if err != nil {
		return errors.Wrap(err, "Can not set image format")
	}
	if int(width) != w.Width || int(height) != w.Height {
		return errors.Errorf("Failed to set resolution to %dx%d, got %dx%d", w.Width, w.Height, width, height)
	}
	w.Format = format

	if w.Framerate > 0 {
		// not every driver exposes frame intervals; the Device paces the loop anyway
		_ = cam.SetFramerate(w.Framerate)
	}
	return nil
}

func (w *Webcam) Acquire() (*Frame, error) {
	if w.cam == nil {
		return nil, errors.New("device not open")
	}
	timeout := w.Timeout
	if timeout == 0 {
		timeout = 1
	}

	err := w.cam.WaitForFrame(timeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, errFrameTimeout
	default:
		return nil, errors.Wrap(err, "Frame wait failed")
	}

	buf, err := w.cam.ReadFrame()
	if err != nil {
		return nil, errors.Wrap(err, "Read frame failed")
	}
	if len(buf) == 0 {
		return nil, errEmptyFrame
	}

	// ReadFrame returns the mmaped driver buffer, which is requeued on the next read
	data := make([]byte, len(buf))
	copy(data, buf)

	if w.SkipDark && !hasGoodBlackLevel(data, w.Format) {
		return nil, errPoorExposure
	}

	return &Frame{
		Data:      data,
		Width:     w.Width,
		Height:    w.Height,
		Format:    w.Format,
		Timestamp: time.Now(),
	}, nil
}

func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cam == nil {
		return nil
	}
	cam := w.cam
	w.cam = nil
	if err := cam.StopStreaming(); err != nil {
		cam.Close()
		return errors.Wrap(err, "Can not stop streaming")
	}
	return cam.Close()
}
