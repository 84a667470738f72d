// Package camrec records frames from a capture device to storage.
//
// A Recorder owns one capture.Device and one writer.Pool. It registers a
// callback on the device that stamps each frame, runs the transform hook and
// queues the frame on the pool. Recording silently produces fewer files than
// captured frames when the pool is closed, writing is disabled, the queue is
// full or storage fails; none of these stop the capture loop.
package camrec

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/writer"
	"github.com/pkg/errors"
)

// TimestampLayout is the timestamp substituted into path templates. It is
// always formatted in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	DefaultPathTemplate      = "picture-{}.png"
	DefaultSingleShotTimeout = 5 * time.Second
)

var ErrBusy = errors.New("recorder busy")

type State int32

const (
	Idle State = iota
	SingleShot
	Continuous
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SingleShot:
		return "single-shot"
	case Continuous:
		return "continuous"
	}
	return "unknown"
}

// Transform may replace a frame before it is written. It runs on the
// capture goroutine, so it must not do I/O. Returning nil drops the frame.
// The received frame is shared with other observers; clone it before
// modifying.
type Transform func(ts time.Time, frame *capture.Frame) *capture.Frame

func Identity(_ time.Time, frame *capture.Frame) *capture.Frame { return frame }

type Option func(*Recorder)

func WithTransform(t Transform) Option {
	return func(r *Recorder) {
		if t != nil {
			r.transform = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithOutputDir sets where SaveOneImage puts its pictures.
func WithOutputDir(dir string) Option {
	return func(r *Recorder) { r.outputDir = dir }
}

func WithSingleShotTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type Recorder struct {
	dev       *capture.Device
	pool      *writer.Pool
	transform Transform
	log       *slog.Logger
	outputDir string
	timeout   time.Duration

	// mu serializes state transitions.
	mu    sync.Mutex
	state atomic.Int32

	stampMu   sync.Mutex
	lastStamp time.Time
}

func New(dev *capture.Device, pool *writer.Pool, opts ...Option) *Recorder {
	r := &Recorder{
		dev:       dev,
		pool:      pool,
		transform: Identity,
		log:       slog.Default(),
		outputDir: ".",
		timeout:   DefaultSingleShotTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "recorder")
	return r
}

func (r *Recorder) State() State {
	return State(r.state.Load())
}

// SaveOneImage stores one frame as picture-<timestamp>.png in the output
// directory and returns its absolute path.
func (r *Recorder) SaveOneImage(ctx context.Context) (string, error) {
	return r.SaveImageTo(ctx, filepath.Join(r.outputDir, DefaultPathTemplate))
}

// SaveImageTo opens the device, stores the first successfully captured
// frame at path and closes the device again. A {} in path is replaced by
// the frame timestamp. It returns the absolute path written, or "" and the
// error when the device can not be opened or the write fails.
func (r *Recorder) SaveImageTo(ctx context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() != Idle {
		return "", errors.Wrapf(ErrBusy, "can not take a picture while %s", r.State())
	}
	r.state.Store(int32(SingleShot))
	defer r.state.Store(int32(Idle))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var saved string
	err := capture.Capture(ctx, r.dev, func(frame *capture.Frame) (bool, error) {
		ts := r.stamp(frame.Timestamp)
		out := r.transform(ts, frame)
		if out == nil {
			return true, nil
		}
		dest := FormatPath(path, ts)
		if err := r.pool.WriteSync(dest, out); err != nil {
			return false, err
		}
		saved = dest
		return false, nil
	})
	if err != nil {
		r.log.Error("Can not take picture", "path", path, "error", err)
		return "", err
	}

	abs, err := filepath.Abs(saved)
	if err != nil {
		return saved, nil
	}
	return abs, nil
}

// StartRecording opens the writer pool and the device and queues every
// captured frame to pathTemplate, where {} is replaced by the frame
// timestamp.
func (r *Recorder) StartRecording(pathTemplate string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() != Idle {
		return errors.Wrapf(ErrBusy, "can not start recording while %s", r.State())
	}
	if pathTemplate == "" {
		pathTemplate = filepath.Join(r.outputDir, DefaultPathTemplate)
	}

	poolWasOpen := r.pool.IsOpen()
	r.pool.Open()
	id := r.dev.AddCallback(r.recordCallback(pathTemplate))
	if err := r.dev.Open(); err != nil {
		r.dev.RemoveCallback(id)
		if !poolWasOpen {
			r.pool.Close()
		}
		return err
	}
	r.state.Store(int32(Continuous))
	r.log.Info("Recording started", "path", pathTemplate)
	return nil
}

// StopRecording closes the device and clears its callbacks. With
// waitForWriter it also blocks until every queued frame is written.
// Otherwise the caller must call WaitForWriter later, or queued frames and
// the pool workers stay alive.
func (r *Recorder) StopRecording(waitForWriter bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dev.Close()
	r.dev.ClearCallbacks()
	if waitForWriter {
		r.drain()
	}
	r.state.Store(int32(Idle))
	r.log.Info("Recording stopped", "wait_for_writer", waitForWriter)
}

// WaitForWriter closes the writer pool, blocking until it is drained. It is
// a no-op while recording.
func (r *Recorder) WaitForWriter() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State() == Continuous {
		r.log.Warn("Writer is in use by the running recording, not draining")
		return
	}
	r.drain()
}

// drain waits for the last capture loop, so its frames are queued, then
// closes the pool. mu must be held.
func (r *Recorder) drain() {
	r.dev.Wait()
	r.pool.Close()
}

func (r *Recorder) EnableWrite(state bool) {
	r.pool.EnableWrite(state)
}

// SetControl sets any camera control by its v4l2-ctl name.
func (r *Recorder) SetControl(name string, value int32) error {
	return r.dev.SetControl(name, value)
}

// Zoom takes a value between 100 and 800.
func (r *Recorder) Zoom(value int32) error {
	return r.dev.SetControl(capture.ControlZoom, value)
}

// Pan takes a multiple of 3600 between -648000 and 648000.
func (r *Recorder) Pan(value int32) error {
	return r.dev.SetControl(capture.ControlPan, value)
}

// Tilt takes a multiple of 3600 between -648000 and 648000.
func (r *Recorder) Tilt(value int32) error {
	return r.dev.SetControl(capture.ControlTilt, value)
}

// LoadSettings applies every control of the named setting in a settings
// file. It stops at the first control the camera rejects.
func (r *Recorder) LoadSettings(path, setting string) error {
	values, err := capture.LoadSettings(path, setting)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.dev.SetControl(name, values[name]); err != nil {
			return errors.Wrapf(err, "setting %s", setting)
		}
	}
	r.log.Info("Camera settings applied", "file", path, "setting", setting)
	return nil
}

func (r *Recorder) recordCallback(pathTemplate string) capture.Callback {
	return func(ok bool, frame *capture.Frame) {
		if !ok {
			return
		}
		ts := r.stamp(frame.Timestamp)
		out := r.transform(ts, frame)
		if out == nil {
			return
		}
		r.pool.WriteImage(FormatPath(pathTemplate, ts), out)
	}
}

// stamp returns ts at microsecond resolution, nudged forward so that no two
// frames share a timestamp.
func (r *Recorder) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.Round(0).Truncate(time.Microsecond)

	r.stampMu.Lock()
	defer r.stampMu.Unlock()
	if !ts.After(r.lastStamp) {
		ts = r.lastStamp.Add(time.Microsecond)
	}
	r.lastStamp = ts
	return ts
}

// FormatPath replaces every {} in template with ts in UTC.
func FormatPath(template string, ts time.Time) string {
	return strings.ReplaceAll(template, "{}", ts.UTC().Format(TimestampLayout))
}

type Status struct {
	State        State
	Device       capture.Stats
	Pending      int
	WriteEnabled bool
}

func (r *Recorder) Status() Status {
	return Status{
		State:        r.State(),
		Device:       r.dev.Stats(),
		Pending:      r.pool.Pending(),
		WriteEnabled: r.pool.WriteEnabled(),
	}
}
