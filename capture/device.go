package capture

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abihf/camrec/metrics"
	"github.com/abihf/camrec/utils/thread"
	"github.com/google/uuid"
	ring "github.com/zfjagann/golang-ring"
	"golang.org/x/time/rate"
)

// Callback observes every frame produced while it is registered. ok is false
// when the acquisition failed, in which case frame is nil. Callbacks run on
// the capture goroutine; they may call Close but not Open or Wait on the
// same Device.
type Callback func(ok bool, frame *Frame)

type Option struct {
	// Device names the source in logs and errors.
	Device string

	// Framerate caps the capture loop, in frames per second. Zero means
	// as fast as the source delivers.
	Framerate float64

	// PinCore runs the capture loop on a locked OS thread bound to Core.
	PinCore bool
	Core    int

	Logger *slog.Logger
}

type Stats struct {
	Frames      uint64
	Failures    uint64
	AvgInterval time.Duration
}

const (
	stateClosed int32 = iota
	stateOpen
)

const intervalWindow = 30

type observer struct {
	id uuid.UUID
	fn Callback
}

// Device owns a Source and fans frames out to registered callbacks from a
// dedicated capture goroutine.
type Device struct {
	src Source
	opt Option
	log *slog.Logger

	// mu serializes Open and Close. state is the single flag read by both
	// the public API and the capture loop.
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	obsMu     sync.Mutex
	observers []observer
	snapshot  atomic.Pointer[[]Callback]

	frames    atomic.Uint64
	failures  atomic.Uint64
	statsMu   sync.Mutex
	lastFrame time.Time
	intervals *ring.Ring
}

func NewDevice(src Source, opt *Option) *Device {
	if opt == nil {
		opt = &Option{}
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Device{
		src: src,
		opt: *opt,
		log: logger.With("component", "device", "device", opt.Device),
	}
	d.snapshot.Store(&[]Callback{})
	d.resetIntervals()
	return d
}

// Open acquires the source and starts the capture loop. It returns without
// waiting for frames and is a no-op on an open device.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// a previous loop may still be finishing its last acquisition or
	// delivery, which can call Close, so wait for it unlocked
	for {
		if d.state.Load() == stateOpen {
			return nil
		}
		done := d.done
		if done == nil || isClosed(done) {
			break
		}
		d.mu.Unlock()
		<-done
		d.mu.Lock()
	}

	if err := d.src.Open(); err != nil {
		return &DeviceError{Device: d.opt.Device, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.frames.Store(0)
	d.failures.Store(0)
	d.statsMu.Lock()
	d.resetIntervals()
	d.statsMu.Unlock()

	d.state.Store(stateOpen)
	go d.loop(ctx, d.done)

	d.log.Info("Device opened", "framerate", d.opt.Framerate)
	return nil
}

// Close stops the capture loop without waiting for it. A frame acquired
// after Close is discarded and the loop releases the source on exit.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.CompareAndSwap(stateOpen, stateClosed) {
		return
	}
	d.cancel()
	d.log.Info("Device closed")
}

// Wait blocks until the capture loop of the last Open has exited.
func (d *Device) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (d *Device) IsOpen() bool {
	return d.state.Load() == stateOpen
}

// SetControl sets a camera control on the source. Sources that only apply
// controls on open keep the value for the next Open.
func (d *Device) SetControl(name string, value int32) error {
	ctl, ok := d.src.(Controller)
	if !ok {
		return ErrControlUnsupported
	}
	if err := ValidateControl(name, value); err != nil {
		return err
	}
	if err := ctl.SetControl(ControlKey(name), value); err != nil {
		return err
	}
	d.log.Debug("Control set", "control", name, "value", value)
	return nil
}

// AddCallback registers fn and returns a handle for RemoveCallback.
func (d *Device) AddCallback(fn Callback) uuid.UUID {
	id := uuid.New()
	d.obsMu.Lock()
	d.observers = append(d.observers, observer{id: id, fn: fn})
	d.publish()
	d.obsMu.Unlock()
	return id
}

func (d *Device) RemoveCallback(id uuid.UUID) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	for i, o := range d.observers {
		if o.id == id {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			d.publish()
			return
		}
	}
}

func (d *Device) ClearCallbacks() {
	d.obsMu.Lock()
	d.observers = nil
	d.publish()
	d.obsMu.Unlock()
}

// publish swaps in a fresh immutable callback slice. obsMu must be held.
func (d *Device) publish() {
	cbs := make([]Callback, len(d.observers))
	for i, o := range d.observers {
		cbs[i] = o.fn
	}
	d.snapshot.Store(&cbs)
}

func (d *Device) Stats() Stats {
	s := Stats{
		Frames:   d.frames.Load(),
		Failures: d.failures.Load(),
	}
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	values := d.intervals.Values()
	if len(values) == 0 {
		return s
	}
	var sum time.Duration
	for _, v := range values {
		sum += v.(time.Duration)
	}
	s.AvgInterval = sum / time.Duration(len(values))
	return s
}

func (d *Device) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := d.src.Close(); err != nil {
			d.log.Warn("Can not release device", "error", err)
		}
	}()

	if d.opt.PinCore {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := thread.SetCPUAffinity(d.opt.Core); err != nil {
			d.log.Warn("Can not pin capture loop", "core", d.opt.Core, "error", err)
		}
	}

	limit := rate.Inf
	if d.opt.Framerate > 0 {
		limit = rate.Limit(d.opt.Framerate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var seq uint64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if d.state.Load() != stateOpen {
			return
		}

		frame, err := d.src.Acquire()

		// Close may have happened during the acquisition
		if d.state.Load() != stateOpen {
			return
		}

		ok := err == nil && frame != nil
		if ok {
			seq++
			frame.Seq = seq
			d.frames.Add(1)
			d.recordInterval(frame.Timestamp)
			metrics.IncFrame(metrics.FrameCaptured)
		} else {
			frame = nil
			d.failures.Add(1)
			metrics.IncFrame(metrics.FrameFailed)
			d.log.Debug("Frame acquisition failed", "error", err)
		}

		for _, cb := range *d.snapshot.Load() {
			cb(ok, frame)
		}
	}
}

func (d *Device) resetIntervals() {
	d.lastFrame = time.Time{}
	d.intervals = &ring.Ring{}
	d.intervals.SetCapacity(intervalWindow)
}

func (d *Device) recordInterval(ts time.Time) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if !d.lastFrame.IsZero() {
		d.intervals.Enqueue(ts.Sub(d.lastFrame))
	}
	d.lastFrame = ts
}
