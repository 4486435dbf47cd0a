package sink

import (
	"bytes"
	"context"
	"sync"
)

// Memory accumulates the stream into one contiguous buffer.
type Memory struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done bool
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Write implements Sink.
func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return 0, ErrSinkClosed
	}
	return m.buf.Write(p)
}

// Commit implements Sink.
func (m *Memory) Commit(_ context.Context) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return Output{}, ErrSinkClosed
	}
	m.done = true

	data := m.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	return Output{
		Kind:   KindMemory,
		Buffer: data,
		Size:   int64(len(data)),
	}, nil
}

// Abort implements Sink.
func (m *Memory) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return nil
	}
	m.done = true
	m.buf = bytes.Buffer{}
	return nil
}
