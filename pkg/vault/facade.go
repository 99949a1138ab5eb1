package vault

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/passvault/passvault/pkg/audit"
	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// Options configures a Facade. Store and Provider are required; the rest
// default sensibly.
type Options struct {
	Store    *storage.Store
	Provider crypto.Provider

	// Mirror, when the store sits on one, enables degradation warnings.
	Mirror *storage.Mirror

	// Audit, when set, records vault operations. The logger only writes
	// while a key is installed.
	Audit *audit.Logger

	Logger *slog.Logger

	SessionTimeout   time.Duration
	ExpiryInterval   time.Duration
	AttemptThreshold uint32
}

// Facade is the single entry point for callers: CLI, tests, or any other
// surface. Each Facade owns its engine and session; nothing about vault
// state is process-global, so two facades over two stores are fully
// independent.
type Facade struct {
	engine    *Engine
	guard     *Guard
	mirror    *storage.Mirror
	auditLog  *audit.Logger
	logger    *slog.Logger
	threshold uint32
	stopLoop  context.CancelFunc
}

// New builds a facade and starts the background expiry check.
func New(opts Options) (*Facade, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("vault: store is required")
	}
	if opts.Provider == nil {
		opts.Provider = crypto.Select()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AttemptThreshold == 0 {
		opts.AttemptThreshold = DefaultAttemptThreshold
	}

	f := &Facade{
		engine:    NewEngine(opts.Store, opts.Provider),
		mirror:    opts.Mirror,
		auditLog:  opts.Audit,
		logger:    opts.Logger,
		threshold: opts.AttemptThreshold,
	}
	f.guard = NewGuard(opts.Store, storage.NewMemBackend(), opts.SessionTimeout, f.onGuardLock, opts.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	f.stopLoop = cancel
	go f.guard.RunExpiryLoop(ctx, opts.ExpiryInterval)

	return f, nil
}

// onGuardLock runs on every transition out of Unlocked.
func (f *Facade) onGuardLock() {
	f.engine.ClearKey()
	if f.auditLog != nil {
		f.auditLog.Log(audit.OpVaultLock, 0, nil)
		f.auditLog.ClearKey()
	}
}

// Unlock authenticates the master password and starts a session. On the
// very first unlock the vault initializes itself: fresh salt, check
// value, empty record set. A cancelled ctx aborts the attempt cleanly
// without counting as a failure. Wrong passwords bump the durable
// failure counter; when it reaches the threshold the error suggests the
// reset path, and nothing is ever wiped automatically.
func (f *Facade) Unlock(ctx context.Context, password []byte) error {
	if f.IsUnlocked() {
		return nil
	}
	if err := f.guard.Begin(); err != nil {
		return err
	}

	initialized, err := f.engine.Initialized()
	if err != nil {
		f.guard.Cancel()
		return err
	}

	// Argon2id takes real time; run it off the caller's cancel path.
	type result struct {
		key []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if initialized {
			r.key, r.err = f.engine.Authenticate(password)
		} else {
			r.key, r.err = f.engine.Initialize(password)
		}
		ch <- r
	}()

	select {
	case <-ctx.Done():
		f.guard.Cancel()
		go func() {
			if r := <-ch; r.key != nil {
				crypto.SecureWipe(r.key)
			}
		}()
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if r.err == ErrInvalidPassword {
				attempts, ferr := f.guard.Fail()
				if ferr != nil {
					f.logger.Warn("failed to record unlock failure", "error", ferr)
				}
				if f.auditLog != nil {
					f.auditLog.Log(audit.OpVaultUnlockFailed, 0, r.err)
				}
				if attempts >= f.threshold {
					return fmt.Errorf("%w (%d consecutive failures; reset the vault if the password is lost)",
						ErrInvalidPassword, attempts)
				}
				return r.err
			}
			f.guard.Cancel()
			return r.err
		}

		fp := sha256.Sum256(r.key)
		if err := f.guard.Succeed(fp[:8]); err != nil {
			f.guard.Cancel()
			crypto.SecureWipe(r.key)
			return err
		}
		f.engine.InstallKey(r.key)

		if f.auditLog != nil {
			if err := f.auditLog.SetKey(r.key); err != nil {
				f.logger.Warn("audit logging unavailable", "error", err)
			} else if initialized {
				f.auditLog.Log(audit.OpVaultUnlock, 0, nil)
			} else {
				f.auditLog.Log(audit.OpVaultInit, 0, nil)
			}
		}
		return nil
	}
}

// Initialized reports whether the vault has been set up with a master
// password. It works on a locked vault.
func (f *Facade) Initialized() (bool, error) {
	return f.engine.Initialized()
}

// Lock ends the session and destroys all live key material. Safe to call
// at any time.
func (f *Facade) Lock() {
	f.guard.Lock()
}

// IsUnlocked reports whether operations are currently authorized.
func (f *Facade) IsUnlocked() bool {
	return f.guard.State() == StateUnlocked && f.engine.Unlocked()
}

// State returns the session state for status output.
func (f *Facade) State() State { return f.guard.State() }

// CipherName names the active encryption backend.
func (f *Facade) CipherName() string { return f.engine.provider.Name() }

// Warnings reports non-fatal degradation: storage targets whose last
// write failed. Empty means full redundancy.
func (f *Facade) Warnings() []string {
	if f.mirror == nil {
		return nil
	}
	var warnings []string
	for _, name := range f.mirror.Degraded() {
		warnings = append(warnings, fmt.Sprintf("storage target %q is unavailable; running without redundancy", name))
	}
	return warnings
}

// FailedAttempts returns the durable consecutive unlock failure count.
func (f *Facade) FailedAttempts() (uint32, error) {
	return f.guard.FailedAttempts()
}

// AddEntry stores a new credential and returns its id.
func (f *Facade) AddEntry(service, username, password, url, notes string) (uint64, error) {
	f.guard.Touch()
	id, err := f.engine.AddEntry(service, username, password, url, notes)
	f.audit(audit.OpEntryAdd, id, err)
	return id, err
}

// ListEntries returns all live entries. Records that fail to decrypt are
// reported separately and never abort the listing.
func (f *Facade) ListEntries() ([]Entry, []EntryError, error) {
	f.guard.Touch()
	entries, failures, err := f.engine.ListEntries()
	f.audit(audit.OpEntryList, 0, err)
	return entries, failures, err
}

// SearchEntries returns live entries matching q by service or username.
func (f *Facade) SearchEntries(q string) ([]Entry, []EntryError, error) {
	f.guard.Touch()
	entries, failures, err := f.engine.SearchEntries(q)
	f.audit(audit.OpEntryList, 0, err)
	return entries, failures, err
}

// GetEntry returns one live entry by id.
func (f *Facade) GetEntry(id uint64) (Entry, error) {
	f.guard.Touch()
	return f.engine.GetEntry(id)
}

// UpdateEntry applies field changes to an entry. Returns false when no
// live entry has the id.
func (f *Facade) UpdateEntry(id uint64, upd EntryUpdate) (bool, error) {
	f.guard.Touch()
	ok, err := f.engine.UpdateEntry(id, upd)
	if ok || err != nil {
		f.audit(audit.OpEntryUpdate, id, err)
	}
	return ok, err
}

// DeleteEntry soft-deletes an entry. Returns false when the id was never
// stored; deleting twice is harmless.
func (f *Facade) DeleteEntry(id uint64) (bool, error) {
	f.guard.Touch()
	ok, err := f.engine.DeleteEntry(id)
	if ok || err != nil {
		f.audit(audit.OpEntryDelete, id, err)
	}
	return ok, err
}

// ChangeMasterPassword re-keys the vault under a new password. The old
// password must verify; every record is re-encrypted, so material
// encrypted under the old key cannot be read with the new one.
func (f *Facade) ChangeMasterPassword(oldPassword, newPassword []byte) error {
	f.guard.Touch()
	err := f.engine.ChangeMasterPassword(oldPassword, newPassword)
	f.audit(audit.OpPasswordChange, 0, err)
	return err
}

// ResetVault irreversibly wipes the vault. The caller must pass
// confirmed=true after its own double confirmation; this is the only
// path that destroys data, and nothing triggers it automatically.
func (f *Facade) ResetVault(confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}
	f.audit(audit.OpVaultReset, 0, nil)
	f.guard.Lock()
	if err := f.engine.ResetVault(); err != nil {
		return err
	}
	return f.guard.ResetFailedAttempts()
}

// ExportSnapshot produces one authenticated blob of the whole vault
// protected by password.
func (f *Facade) ExportSnapshot(password []byte) ([]byte, error) {
	f.guard.Touch()
	blob, err := f.engine.ExportSnapshot(password)
	f.audit(audit.OpSnapshotExport, 0, err)
	return blob, err
}

// ImportSnapshot verifies blob and replaces the record set with its
// contents. A corrupt blob or wrong password leaves the vault untouched.
func (f *Facade) ImportSnapshot(blob, password []byte) error {
	f.guard.Touch()
	err := f.engine.ImportSnapshot(blob, password)
	f.audit(audit.OpSnapshotImport, 0, err)
	return err
}

// AuditLog returns the audit logger, or nil when auditing is disabled.
func (f *Facade) AuditLog() *audit.Logger {
	return f.auditLog
}

// Close locks the vault and stops the expiry loop. The storage backend
// is owned by the caller and closed separately.
func (f *Facade) Close() {
	f.stopLoop()
	f.guard.Lock()
}

func (f *Facade) audit(op string, entryID uint64, opErr error) {
	if f.auditLog == nil {
		return
	}
	if opErr == ErrVaultLocked {
		// Nothing happened and the audit key is gone anyway.
		return
	}
	if err := f.auditLog.Log(op, entryID, opErr); err != nil {
		f.logger.Warn("audit write failed", "op", op, "error", err)
	}
}
