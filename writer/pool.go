// Package writer persists frames on a fixed set of worker goroutines so that
// storage latency never reaches the capture loop.
//
// Workers compete for jobs from one shared FIFO queue. Jobs are dequeued in
// submission order, but with more than one worker the files may land on disk
// in a different order. Use a single worker when write order matters.
package writer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/metrics"
	"github.com/abihf/camrec/storage"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultQueueSize = 1024

var (
	ErrPoolClosed    = errors.New("writer pool is closed")
	ErrWriteDisabled = errors.New("writing is disabled")
	ErrQueueFull     = errors.New("write queue is full")
)

// Job pairs a resolved destination with the frame to store there. The pool
// owns the frame until the job is written.
type Job struct {
	Destination string
	Frame       *capture.Frame
}

type Option struct {
	// Workers is the number of writer goroutines, at least 1.
	Workers int

	// QueueSize bounds the number of jobs waiting for a worker. Frames
	// arriving on a full queue are dropped.
	QueueSize int

	Logger *slog.Logger
}

type Pool struct {
	store   storage.Storage
	workers int
	size    int
	log     *slog.Logger

	enabled atomic.Bool

	// lifeMu serializes Open and Close, mu guards the queue against a
	// concurrent close while enqueueing.
	lifeMu sync.Mutex
	mu     sync.RWMutex
	open   bool
	jobs   chan Job
	group  *errgroup.Group
}

func New(store storage.Storage, opt *Option) *Pool {
	if opt == nil {
		opt = &Option{}
	}
	p := &Pool{
		store:   store,
		workers: opt.Workers,
		size:    opt.QueueSize,
		log:     opt.Logger,
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if p.size <= 0 {
		p.size = DefaultQueueSize
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "writer")
	p.enabled.Store(true)
	return p
}

// Open starts the workers. It is a no-op on an open pool.
func (p *Pool) Open() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return
	}

	jobs := make(chan Job, p.size)
	g := &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.work(jobs)
			return nil
		})
	}
	p.jobs = jobs
	p.group = g
	p.open = true
	p.log.Info("Writer pool opened", "workers", p.workers, "queue_size", p.size)
}

// Close stops accepting jobs and blocks until every queued job has been
// handed to storage and all workers have exited.
func (p *Pool) Close() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return
	}
	p.open = false
	close(p.jobs)
	g := p.group
	p.mu.Unlock()

	_ = g.Wait()
	metrics.SetQueueDepth(0)
	p.log.Info("Writer pool drained")
}

func (p *Pool) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.open
}

// EnableWrite gates WriteImage without stopping the workers.
func (p *Pool) EnableWrite(state bool) {
	p.enabled.Store(state)
}

func (p *Pool) WriteEnabled() bool {
	return p.enabled.Load()
}

// Pending returns the number of queued jobs not yet picked by a worker.
func (p *Pool) Pending() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.open {
		return 0
	}
	return len(p.jobs)
}

// WriteImage queues frame for destination and returns immediately. The
// frame is dropped when the pool is closed, writing is disabled or the
// queue is full.
func (p *Pool) WriteImage(destination string, frame *capture.Frame) {
	_ = p.TryWrite(destination, frame)
}

// TryWrite is WriteImage reporting why a frame was dropped.
func (p *Pool) TryWrite(destination string, frame *capture.Frame) error {
	if !p.enabled.Load() {
		metrics.IncDrop(metrics.DropDisabled)
		return ErrWriteDisabled
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.open {
		metrics.IncDrop(metrics.DropClosed)
		return ErrPoolClosed
	}

	select {
	case p.jobs <- Job{Destination: destination, Frame: frame}:
		metrics.IncJob(metrics.JobQueued)
		metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		metrics.IncDrop(metrics.DropFull)
		p.log.Warn("Write queue full, dropping frame", "destination", destination)
		return ErrQueueFull
	}
}

// WriteSync stores frame on the calling goroutine, bypassing the queue and
// the write gate.
func (p *Pool) WriteSync(destination string, frame *capture.Frame) error {
	if err := p.store.Write(destination, frame); err != nil {
		metrics.IncJob(metrics.JobFailed)
		return err
	}
	metrics.IncJob(metrics.JobWritten)
	return nil
}

func (p *Pool) work(jobs <-chan Job) {
	for job := range jobs {
		metrics.SetQueueDepth(len(jobs))
		p.handle(job)
	}
}

// handle never lets a storage failure escape the worker.
func (p *Pool) handle(job Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncJob(metrics.JobFailed)
			p.log.Error("Write panicked", "destination", job.Destination, "panic", r)
		}
	}()

	if err := p.store.Write(job.Destination, job.Frame); err != nil {
		metrics.IncJob(metrics.JobFailed)
		p.log.Warn("Can not write frame", "destination", job.Destination, "error", err)
		return
	}
	metrics.IncJob(metrics.JobWritten)
}
