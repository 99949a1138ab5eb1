// Package storage provides the persistence layer for passvault.
//
// A Backend is a flat key/value medium (bbolt file, SQLite database, or an
// in-memory map). Mirror composes several backends into one redundant
// write path. Store implements the record and metadata model on top of a
// Backend; it never interprets ciphertext, only envelopes.
package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// Sentinel errors returned by the storage layer.
var (
	// ErrKeyNotFound indicates the key does not exist in the backend.
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrStorageUnavailable indicates no configured backend could serve
	// the operation.
	ErrStorageUnavailable = errors.New("storage: storage unavailable")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("storage: backend closed")
)

// BatchOp is one mutation inside an atomic batch. Remove true removes
// Key; otherwise Key is set to Value.
type BatchOp struct {
	Key    []byte
	Value  []byte
	Remove bool
}

// Backend is a flat key/value medium. Implementations must be safe for
// concurrent use. Get returns ErrKeyNotFound for absent keys; Remove of an
// absent key is a no-op.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Remove(key []byte) error

	// Apply performs ops in order as one atomic unit: either every op is
	// persisted or none is.
	Apply(ops []BatchOp) error

	// Keys returns all keys with the given prefix in lexicographic order.
	Keys(prefix []byte) ([][]byte, error)

	// Clear removes every key. Used only by vault reset and snapshot import.
	Clear() error

	// Name identifies the backend for logs and degradation reports.
	Name() string

	Close() error
}

// MemBackend is a volatile in-memory Backend. It backs ephemeral session
// state, which must not survive a process restart, and serves as the test
// double for the durable backends.
type MemBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string][]byte)}
}

func (m *MemBackend) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemBackend) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemBackend) Remove(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, string(key))
	return nil
}

// Apply mutates the map under one lock acquisition. In-memory writes
// cannot fail partway, so the batch is trivially atomic.
func (m *MemBackend) Apply(ops []BatchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, op := range ops {
		if op.Remove {
			delete(m.data, string(op.Key))
			continue
		}
		v := make([]byte, len(op.Value))
		copy(v, op.Value)
		m.data[string(op.Key)] = v
	}
	return nil
}

func (m *MemBackend) Keys(prefix []byte) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var keys [][]byte
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, []byte(k))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

func (m *MemBackend) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = make(map[string][]byte)
	return nil
}

func (m *MemBackend) Name() string { return "memory" }

// Close wipes the map so session material does not linger.
func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.data {
		for i := range v {
			v[i] = 0
		}
		delete(m.data, k)
	}
	m.closed = true
	return nil
}
