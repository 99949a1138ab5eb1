package vault

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/passvault/passvault/pkg/storage"
)

// State is the session lifecycle state.
type State int

const (
	// StateLocked is the resting state: no key material is live.
	StateLocked State = iota

	// StateUnlocking covers key derivation and verification. Only one
	// attempt runs at a time.
	StateUnlocking

	// StateUnlocked means a live key is installed and operations are
	// authorized.
	StateUnlocked

	// StateExpired is transient: the timeout elapsed and the session is
	// being torn down. It folds into Locked immediately.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session keys in the ephemeral backend. Session data never touches
// durable storage, so a crash or restart always comes back locked.
var (
	sessionStartedKey  = []byte("session/started_at")
	sessionActivityKey = []byte("session/last_activity")
	sessionFpKey       = []byte("session/key_fingerprint")
)

// DefaultSessionTimeout locks an idle vault after an hour.
const DefaultSessionTimeout = 60 * time.Minute

// DefaultExpiryInterval is how often the background check runs.
const DefaultExpiryInterval = 2 * time.Minute

// DefaultAttemptThreshold is the consecutive-failure count after which
// the caller should offer the reset path. Failures never wipe anything
// on their own.
const DefaultAttemptThreshold = 3

// Guard is the session state machine. It owns no key material; it tells
// its owner when to install or destroy the key via the onLock callback.
// The failed-attempt counter is durable store metadata and survives
// restarts; everything else about a session is ephemeral.
type Guard struct {
	mu        sync.Mutex
	state     State
	store     *storage.Store
	ephemeral storage.Backend
	timeout   time.Duration
	onLock    func()
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard builds a guard in the Locked state. onLock runs on every
// transition out of Unlocked (explicit lock or expiry) and is where the
// owner wipes the key. A zero timeout means DefaultSessionTimeout.
func NewGuard(store *storage.Store, ephemeral storage.Backend, timeout time.Duration, onLock func(), logger *slog.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onLock == nil {
		onLock = func() {}
	}
	return &Guard{
		state:     StateLocked,
		store:     store,
		ephemeral: ephemeral,
		timeout:   timeout,
		onLock:    onLock,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the current session state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Begin moves Locked to Unlocking. A second concurrent attempt gets
// ErrUnlockInProgress; beginning while already Unlocked is an error the
// caller should treat as "nothing to do".
func (g *Guard) Begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case StateUnlocking:
		return ErrUnlockInProgress
	case StateUnlocked:
		return fmt.Errorf("vault: session already unlocked")
	}
	g.state = StateUnlocking
	return nil
}

// Succeed moves Unlocking to Unlocked, resets the durable failure
// counter, and records the session start in ephemeral storage. On any
// internal failure the attempt folds back to Locked with no partial
// session state, so a later Begin works.
func (g *Guard) Succeed(keyFingerprint []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateUnlocking {
		return fmt.Errorf("vault: succeed from %s", g.state)
	}

	abort := func(err error) error {
		for _, key := range [][]byte{sessionStartedKey, sessionActivityKey, sessionFpKey} {
			if rerr := g.ephemeral.Remove(key); rerr != nil {
				g.logger.Warn("failed to clear session key", "error", rerr)
			}
		}
		g.state = StateLocked
		return err
	}

	if err := g.store.SetMetadata(metaFailedAttempts, encodeCounter(0)); err != nil {
		return abort(err)
	}

	now := g.now().UTC().Format(time.RFC3339Nano)
	if err := g.ephemeral.Set(sessionStartedKey, []byte(now)); err != nil {
		return abort(err)
	}
	if err := g.ephemeral.Set(sessionActivityKey, []byte(now)); err != nil {
		return abort(err)
	}
	if err := g.ephemeral.Set(sessionFpKey, keyFingerprint); err != nil {
		return abort(err)
	}

	g.state = StateUnlocked
	g.logger.Info("session unlocked", "timeout", g.timeout)
	return nil
}

// Fail moves Unlocking back to Locked and increments the durable failure
// counter. It returns the new count so the caller can decide whether to
// mention the reset path.
func (g *Guard) Fail() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateUnlocking {
		return 0, fmt.Errorf("vault: fail from %s", g.state)
	}
	g.state = StateLocked

	attempts, err := g.failedAttemptsLocked()
	if err != nil {
		return 0, err
	}
	attempts++
	if err := g.store.SetMetadata(metaFailedAttempts, encodeCounter(attempts)); err != nil {
		return attempts, err
	}
	g.logger.Warn("unlock failed", "attempts", attempts)
	return attempts, nil
}

// Cancel aborts an in-flight unlock without touching the counter. The
// session comes back Locked with no partial state.
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateUnlocking {
		g.state = StateLocked
	}
}

// Touch refreshes the activity timestamp. Called on every authorized
// operation so an active session does not expire mid-use.
func (g *Guard) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateUnlocked {
		return
	}
	now := g.now().UTC().Format(time.RFC3339Nano)
	if err := g.ephemeral.Set(sessionActivityKey, []byte(now)); err != nil {
		g.logger.Warn("failed to record session activity", "error", err)
	}
}

// Lock tears the session down from any state. Idempotent.
func (g *Guard) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lockLocked("explicit lock")
}

// CheckExpiry expires the session when the inactivity timeout has
// elapsed. Running it twice in a row is a no-op; the transient Expired
// state folds straight into Locked. Returns whether this call expired
// the session.
func (g *Guard) CheckExpiry(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateUnlocked {
		return false
	}

	raw, err := g.ephemeral.Get(sessionActivityKey)
	if err != nil {
		// Session data is gone; fail closed.
		g.state = StateExpired
		g.lockLocked("session data missing")
		return true
	}
	last, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil || now.Sub(last) >= g.timeout {
		g.state = StateExpired
		g.lockLocked("session timeout")
		return true
	}
	return false
}

// RunExpiryLoop drives CheckExpiry on a ticker until ctx is cancelled.
// Run it in its own goroutine.
func (g *Guard) RunExpiryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.CheckExpiry(now)
		}
	}
}

// FailedAttempts reads the durable consecutive-failure counter.
func (g *Guard) FailedAttempts() (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failedAttemptsLocked()
}

// ResetFailedAttempts clears the durable counter, used by the explicit
// reset path.
func (g *Guard) ResetFailedAttempts() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store.SetMetadata(metaFailedAttempts, encodeCounter(0))
}

// lockLocked clears ephemeral session data, notifies the owner, and
// settles in Locked. Callers hold g.mu.
func (g *Guard) lockLocked(reason string) {
	wasLive := g.state == StateUnlocked || g.state == StateExpired
	g.state = StateLocked
	for _, key := range [][]byte{sessionStartedKey, sessionActivityKey, sessionFpKey} {
		if err := g.ephemeral.Remove(key); err != nil {
			g.logger.Warn("failed to clear session data", "error", err)
		}
	}
	if wasLive {
		g.onLock()
		g.logger.Info("session locked", "reason", reason)
	}
}

func (g *Guard) failedAttemptsLocked() (uint32, error) {
	raw, err := g.store.GetMetadata(metaFailedAttempts)
	if err == storage.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(raw), nil
}

func encodeCounter(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}
