// Package capturetest provides an in-memory capture.Source for tests.
package capturetest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/abihf/camrec/capture"
	"github.com/pkg/errors"
)

var (
	ErrBusy    = errors.New("source already claimed")
	ErrAcquire = errors.New("acquisition failed")
)

// Source produces small GREY frames. Opening it twice without a Close fails
// like a claimed device would.
type Source struct {
	Width  int
	Height int

	// OpenErr makes Open fail.
	OpenErr error

	// FailEvery makes every n-th acquisition fail.
	FailEvery int

	// Delay is spent inside every Acquire.
	Delay time.Duration

	// ControlErr makes SetControl fail.
	ControlErr error

	mu       sync.Mutex
	open     bool
	acquired int
	controls map[string]int32

	opens   atomic.Int32
	closes  atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
}

func New() *Source {
	return &Source{Width: 4, Height: 2}
}

func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	if s.open {
		return ErrBusy
	}
	s.open = true
	s.opens.Add(1)
	return nil
}

func (s *Source) Acquire() (*capture.Frame, error) {
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)

	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, errors.New("source not open")
	}
	s.acquired++
	if s.FailEvery > 0 && s.acquired%s.FailEvery == 0 {
		return nil, ErrAcquire
	}

	data := make([]byte, s.Width*s.Height)
	for i := range data {
		data[i] = byte(s.acquired)
	}
	return &capture.Frame{
		Data:      data,
		Width:     s.Width,
		Height:    s.Height,
		Format:    capture.FormatGrey,
		Timestamp: time.Now(),
	}, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.open = false
		s.closes.Add(1)
	}
	return nil
}

func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Source) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *Source) Opens() int { return int(s.opens.Load()) }

func (s *Source) Closes() int { return int(s.closes.Load()) }

// Overlapped reports whether two acquisitions ever ran at the same time,
// which would mean two capture loops.
func (s *Source) Overlapped() bool { return s.overlap.Load() }

func (s *Source) SetControl(name string, value int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ControlErr != nil {
		return s.ControlErr
	}
	if s.controls == nil {
		s.controls = map[string]int32{}
	}
	s.controls[name] = value
	return nil
}

// Control returns the last value set for name.
func (s *Source) Control(name string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.controls[name]
	return v, ok
}
