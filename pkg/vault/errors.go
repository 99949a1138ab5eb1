package vault

import (
	"errors"

	"github.com/passvault/passvault/pkg/storage"
)

// Sentinel errors returned by the vault layer.
var (
	// ErrVaultLocked indicates an operation that needs the master key was
	// called without an unlocked session.
	ErrVaultLocked = errors.New("vault: vault is locked")

	// ErrInvalidPassword indicates the supplied master password did not
	// verify. Wrong password and corrupted key material are deliberately
	// indistinguishable.
	ErrInvalidPassword = errors.New("vault: invalid master password")

	// ErrUnlockInProgress indicates another unlock attempt is already
	// running.
	ErrUnlockInProgress = errors.New("vault: unlock already in progress")

	// ErrStorageUnavailable indicates no storage target could serve the
	// operation.
	ErrStorageUnavailable = storage.ErrStorageUnavailable

	// ErrEntryNotFound indicates no live entry exists with the given id.
	ErrEntryNotFound = errors.New("vault: entry not found")

	// ErrSnapshotCorrupt indicates a snapshot blob failed structural or
	// integrity checks and nothing was applied.
	ErrSnapshotCorrupt = errors.New("vault: snapshot corrupt or wrong password")

	// ErrResetNotConfirmed indicates ResetVault was called without the
	// double confirmation flag.
	ErrResetNotConfirmed = errors.New("vault: reset requires explicit confirmation")

	// ErrNotInitialized indicates the vault has no salt yet; unlock with
	// a new master password to initialize it.
	ErrNotInitialized = errors.New("vault: not initialized")

	// ErrWeakPassword indicates the new master password fails the minimum
	// length policy.
	ErrWeakPassword = errors.New("vault: master password must be at least 8 characters")
)
