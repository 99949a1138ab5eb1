package storage

import (
	"fmt"
	"log/slog"
	"sync"
)

// Mirror fans writes out to every target backend and reads from the first
// healthy one. A write succeeds when at least one target accepts it; the
// targets that failed are tracked so callers can surface a degradation
// warning instead of silently losing redundancy. Only when every target
// fails does an operation return ErrStorageUnavailable.
//
// Mirror implements Backend, so Store composes over it unchanged.
type Mirror struct {
	mu       sync.Mutex
	targets  []Backend
	degraded map[string]error
	logger   *slog.Logger
}

// NewMirror builds a mirror over the given targets. The first target is
// the preferred read source. At least one target is required.
func NewMirror(logger *slog.Logger, targets ...Backend) (*Mirror, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("storage: mirror requires at least one target")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		targets:  targets,
		degraded: make(map[string]error),
		logger:   logger,
	}, nil
}

// Degraded returns the names of targets whose most recent write failed.
// Empty means full redundancy.
func (m *Mirror) Degraded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.degraded))
	for _, t := range m.targets {
		if _, ok := m.degraded[t.Name()]; ok {
			names = append(names, t.Name())
		}
	}
	return names
}

// fanOut runs op against every target. One success is enough; failures
// mark the target degraded. A degraded target that accepts a write again
// is first re-synced from a healthy peer, because it may have missed
// writes while it was down; only a successful re-sync clears the mark.
func (m *Mirror) fanOut(what string, op func(Backend) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	var source Backend
	var recovered []Backend
	ok := false
	for _, t := range m.targets {
		_, wasDegraded := m.degraded[t.Name()]
		if err := op(t); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.degraded[t.Name()] = err
			m.logger.Warn("storage target failed", "op", what, "target", t.Name(), "error", err)
			continue
		}
		ok = true
		if wasDegraded {
			recovered = append(recovered, t)
		} else if source == nil {
			source = t
		}
	}

	for _, t := range recovered {
		if source == nil {
			// No healthy peer to copy from; the mark stays until one exists.
			continue
		}
		if err := resync(source, t); err != nil {
			m.degraded[t.Name()] = err
			m.logger.Warn("storage target resync failed", "target", t.Name(), "error", err)
			continue
		}
		delete(m.degraded, t.Name())
		m.logger.Info("storage target recovered", "target", t.Name(), "source", source.Name())
	}

	if !ok {
		return fmt.Errorf("%w: %s failed on all targets: %v", ErrStorageUnavailable, what, firstErr)
	}
	return nil
}

// resync makes target hold exactly the keys of source. Called while the
// mirror lock is held, so no writes race the copy.
func resync(source, target Backend) error {
	keys, err := source.Keys(nil)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(keys))
	for _, key := range keys {
		value, err := source.Get(key)
		if err != nil {
			return err
		}
		if err := target.Set(key, value); err != nil {
			return err
		}
		want[string(key)] = true
	}

	stale, err := target.Keys(nil)
	if err != nil {
		return err
	}
	for _, key := range stale {
		if !want[string(key)] {
			if err := target.Remove(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// readFrom serves reads from healthy targets first; a miss there is
// authoritative. Degraded targets may be missing acknowledged writes, so
// they are consulted last and only trusted for hits.
func (m *Mirror) readFrom(what string, op func(Backend) error) error {
	m.mu.Lock()
	degraded := make(map[string]bool, len(m.degraded))
	for name := range m.degraded {
		degraded[name] = true
	}
	m.mu.Unlock()

	var firstErr error
	for _, t := range m.targets {
		if degraded[t.Name()] {
			continue
		}
		err := op(t)
		if err == nil || err == ErrKeyNotFound {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
		m.logger.Warn("storage target read failed", "op", what, "target", t.Name(), "error", err)
	}

	sawMiss := false
	for _, t := range m.targets {
		if !degraded[t.Name()] {
			continue
		}
		err := op(t)
		if err == nil {
			return nil
		}
		if err == ErrKeyNotFound {
			sawMiss = true
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		m.logger.Warn("storage target read failed", "op", what, "target", t.Name(), "error", err)
	}
	if sawMiss {
		return ErrKeyNotFound
	}
	return fmt.Errorf("%w: %s failed on all targets: %v", ErrStorageUnavailable, what, firstErr)
}

func (m *Mirror) Get(key []byte) ([]byte, error) {
	var value []byte
	err := m.readFrom("get", func(b Backend) error {
		v, err := b.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Mirror) Set(key, value []byte) error {
	return m.fanOut("set", func(b Backend) error { return b.Set(key, value) })
}

func (m *Mirror) Remove(key []byte) error {
	return m.fanOut("remove", func(b Backend) error { return b.Remove(key) })
}

// Apply fans the batch out to every target. Each target applies it
// atomically; the usual mirror guarantee holds across targets, one
// success is enough and the rest degrade.
func (m *Mirror) Apply(ops []BatchOp) error {
	return m.fanOut("apply", func(b Backend) error { return b.Apply(ops) })
}

func (m *Mirror) Keys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := m.readFrom("keys", func(b Backend) error {
		k, err := b.Keys(prefix)
		if err != nil {
			return err
		}
		keys = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (m *Mirror) Clear() error {
	return m.fanOut("clear", func(b Backend) error { return b.Clear() })
}

func (m *Mirror) Name() string { return "mirror" }

// Close closes every target and reports the first error.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, t := range m.targets {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
