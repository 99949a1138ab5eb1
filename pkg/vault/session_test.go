package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/passvault/passvault/pkg/storage"
)

// counterFailBackend fails writes of the durable attempt counter while
// letting everything else through.
type counterFailBackend struct {
	*storage.MemBackend
	fail bool
}

func (b *counterFailBackend) Set(key, value []byte) error {
	if b.fail && string(key) == "meta/failed_attempts" {
		return errors.New("disk full")
	}
	return b.MemBackend.Set(key, value)
}

func newTestGuard(t *testing.T, timeout time.Duration) (*Guard, *storage.Store, *int) {
	t.Helper()
	store := storage.NewStore(storage.NewMemBackend())
	locks := 0
	g := NewGuard(store, storage.NewMemBackend(), timeout, func() { locks++ }, nil)
	return g, store, &locks
}

func unlock(t *testing.T, g *Guard) {
	t.Helper()
	if err := g.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := g.Succeed([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
}

// TestGuardTransitions tests the basic state machine cycle
func TestGuardTransitions(t *testing.T) {
	g, _, locks := newTestGuard(t, time.Hour)

	if g.State() != StateLocked {
		t.Fatalf("initial state = %v, want %v", g.State(), StateLocked)
	}

	if err := g.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if g.State() != StateUnlocking {
		t.Fatalf("state after Begin = %v, want %v", g.State(), StateUnlocking)
	}

	// A second concurrent attempt is rejected
	if err := g.Begin(); err != ErrUnlockInProgress {
		t.Errorf("second Begin() error = %v, want %v", err, ErrUnlockInProgress)
	}

	if err := g.Succeed([]byte{1}); err != nil {
		t.Fatalf("Succeed() error = %v", err)
	}
	if g.State() != StateUnlocked {
		t.Fatalf("state after Succeed = %v, want %v", g.State(), StateUnlocked)
	}

	g.Lock()
	if g.State() != StateLocked {
		t.Fatalf("state after Lock = %v, want %v", g.State(), StateLocked)
	}
	if *locks != 1 {
		t.Errorf("onLock ran %d times, want 1", *locks)
	}

	// Locking again is idempotent and does not re-fire the callback
	g.Lock()
	if *locks != 1 {
		t.Errorf("onLock ran %d times after second Lock, want 1", *locks)
	}
}

// TestGuardCancel tests aborting an in-flight unlock
func TestGuardCancel(t *testing.T) {
	g, _, _ := newTestGuard(t, time.Hour)

	if err := g.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	g.Cancel()
	if g.State() != StateLocked {
		t.Fatalf("state after Cancel = %v, want %v", g.State(), StateLocked)
	}

	// Cancel does not touch the failure counter
	attempts, err := g.FailedAttempts()
	if err != nil {
		t.Fatalf("FailedAttempts() error = %v", err)
	}
	if attempts != 0 {
		t.Errorf("FailedAttempts() after cancel = %d, want 0", attempts)
	}
}

// TestFailedAttemptCounter tests durable counting and reset on success
func TestFailedAttemptCounter(t *testing.T) {
	g, store, _ := newTestGuard(t, time.Hour)

	for want := uint32(1); want <= 3; want++ {
		if err := g.Begin(); err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		got, err := g.Fail()
		if err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		if got != want {
			t.Errorf("Fail() attempts = %d, want %d", got, want)
		}
	}

	// The counter is durable: a new guard over the same store sees it
	g2 := NewGuard(store, storage.NewMemBackend(), time.Hour, nil, nil)
	attempts, err := g2.FailedAttempts()
	if err != nil {
		t.Fatalf("FailedAttempts() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("FailedAttempts() after restart = %d, want 3", attempts)
	}

	// A successful unlock resets it
	unlock(t, g2)
	attempts, err = g2.FailedAttempts()
	if err != nil {
		t.Fatalf("FailedAttempts() error = %v", err)
	}
	if attempts != 0 {
		t.Errorf("FailedAttempts() after success = %d, want 0", attempts)
	}
}

// TestSucceedFailureFoldsBackToLocked tests that a failed counter reset
// does not strand the guard in Unlocking
func TestSucceedFailureFoldsBackToLocked(t *testing.T) {
	backend := &counterFailBackend{MemBackend: storage.NewMemBackend(), fail: true}
	g := NewGuard(storage.NewStore(backend), storage.NewMemBackend(), time.Hour, nil, nil)

	if err := g.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := g.Succeed([]byte{1, 2, 3, 4}); err == nil {
		t.Fatal("Succeed() with failing counter write = nil, want error")
	}
	if g.State() != StateLocked {
		t.Fatalf("state after failed Succeed = %v, want %v", g.State(), StateLocked)
	}

	// A retry with healthy storage goes through
	backend.fail = false
	unlock(t, g)
	if g.State() != StateUnlocked {
		t.Fatalf("state after retry = %v, want %v", g.State(), StateUnlocked)
	}
}

// TestSessionExpiry tests the timeout check
func TestSessionExpiry(t *testing.T) {
	g, _, locks := newTestGuard(t, 30*time.Minute)
	unlock(t, g)

	// Before the timeout nothing happens
	if g.CheckExpiry(time.Now().Add(10 * time.Minute)) {
		t.Error("CheckExpiry() before timeout = true, want false")
	}
	if g.State() != StateUnlocked {
		t.Fatalf("state = %v, want %v", g.State(), StateUnlocked)
	}

	// After the timeout the session folds into Locked
	if !g.CheckExpiry(time.Now().Add(31 * time.Minute)) {
		t.Error("CheckExpiry() after timeout = false, want true")
	}
	if g.State() != StateLocked {
		t.Fatalf("state after expiry = %v, want %v", g.State(), StateLocked)
	}
	if *locks != 1 {
		t.Errorf("onLock ran %d times, want 1", *locks)
	}

	// The check is idempotent
	if g.CheckExpiry(time.Now().Add(time.Hour)) {
		t.Error("second CheckExpiry() = true, want false")
	}
	if *locks != 1 {
		t.Errorf("onLock ran %d times after second check, want 1", *locks)
	}
}

// TestTouchExtendsSession tests that activity defers expiry
func TestTouchExtendsSession(t *testing.T) {
	g, _, _ := newTestGuard(t, 30*time.Minute)

	start := time.Now()
	g.now = func() time.Time { return start }
	unlock(t, g)

	// Activity 20 minutes in pushes the deadline out
	g.now = func() time.Time { return start.Add(20 * time.Minute) }
	g.Touch()

	if g.CheckExpiry(start.Add(40 * time.Minute)) {
		t.Error("CheckExpiry() expired a recently-active session")
	}
	if !g.CheckExpiry(start.Add(51 * time.Minute)) {
		t.Error("CheckExpiry() did not expire after the extended deadline")
	}
}

// TestSessionDataClearedOnLock tests that no session state survives
func TestSessionDataClearedOnLock(t *testing.T) {
	ephemeral := storage.NewMemBackend()
	store := storage.NewStore(storage.NewMemBackend())
	g := NewGuard(store, ephemeral, time.Hour, nil, nil)
	unlock(t, g)

	if _, err := ephemeral.Get(sessionStartedKey); err != nil {
		t.Fatalf("session start missing while unlocked: %v", err)
	}

	g.Lock()
	for _, key := range [][]byte{sessionStartedKey, sessionActivityKey, sessionFpKey} {
		if _, err := ephemeral.Get(key); err != storage.ErrKeyNotFound {
			t.Errorf("session key %q survived lock: %v", key, err)
		}
	}
}
