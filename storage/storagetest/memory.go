// Package storagetest provides an in-memory storage.Storage for tests.
package storagetest

import (
	"sync"

	"github.com/abihf/camrec/capture"
)

type Write struct {
	Path  string
	Frame *capture.Frame
}

// Memory records writes in the order they complete.
type Memory struct {
	// Fail, when set, decides the result of every write.
	Fail func(path string) error

	mu     sync.Mutex
	writes []Write
	gate   chan struct{}
}

func (m *Memory) Write(path string, frame *capture.Frame) error {
	m.mu.Lock()
	gate := m.gate
	fail := m.Fail
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		if err := fail(path); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.writes = append(m.writes, Write{Path: path, Frame: frame})
	m.mu.Unlock()
	return nil
}

// Hold blocks writes until the returned release func is called.
func (m *Memory) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *Memory) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, len(m.writes))
	for i, w := range m.writes {
		paths[i] = w.Path
	}
	return paths
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}
