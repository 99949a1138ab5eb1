// Package vault implements the passvault core: the engine holding the
// live master key, the session state machine, the snapshot codec, and the
// facade that ties them together behind one API.
package vault

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// Metadata names used by the engine.
const (
	metaSalt           = "salt"
	metaKeyCheck       = "key_check"
	metaVaultVersion   = "vault_version"
	metaFailedAttempts = "failed_attempts"
)

// CurrentVaultVersion is the on-disk layout version.
const CurrentVaultVersion = 1

// hkdfInfoKeyCheck derives the stored key check value from the master key.
// The check value never reveals the key and verifies in constant time.
const hkdfInfoKeyCheck = "passvault-key-check-v1"

// Entry is a decrypted credential as seen by callers.
type Entry struct {
	ID        uint64    `json:"id"`
	Service   string    `json:"service"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Notes     string    `json:"notes,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryError reports a record that could not be decrypted during a
// listing. The listing itself still succeeds for the other records.
type EntryError struct {
	ID  uint64
	Err error
}

// EntryUpdate carries the fields to change; nil means leave unchanged.
type EntryUpdate struct {
	Service  *string
	Username *string
	Password *string
	Notes    *string
	URL      *string
}

// Engine is the sole holder of the live master key. The key is nil while
// locked; every operation that touches plaintext checks that first. The
// engine bridges the store (ciphertext at rest) and the crypto provider.
type Engine struct {
	mu       sync.RWMutex
	store    *storage.Store
	provider crypto.Provider
	key      []byte
}

// NewEngine builds an engine over the given store and provider. The
// engine starts locked.
func NewEngine(store *storage.Store, provider crypto.Provider) *Engine {
	return &Engine{store: store, provider: provider}
}

// Initialized reports whether the vault has key material on disk.
func (e *Engine) Initialized() (bool, error) {
	_, err := e.store.GetMetadata(metaSalt)
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Initialize creates the vault's key material from a new master password:
// a fresh 256-bit salt, the derived key's check value, and the layout
// version. Returns the derived key; the caller decides when to install it.
func (e *Engine) Initialize(password []byte) ([]byte, error) {
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	if err := e.store.SetMetadata(metaSalt, salt); err != nil {
		crypto.SecureWipe(key)
		return nil, err
	}
	if err := e.store.SetMetadata(metaKeyCheck, keyCheckValue(key)); err != nil {
		crypto.SecureWipe(key)
		return nil, err
	}
	if err := e.store.SetMetadata(metaVaultVersion, []byte{CurrentVaultVersion}); err != nil {
		crypto.SecureWipe(key)
		return nil, err
	}
	return key, nil
}

// Authenticate derives a key from the password and the stored salt and
// verifies it against the stored check value. On success the key is
// returned; on mismatch the key is wiped and ErrInvalidPassword returned.
func (e *Engine) Authenticate(password []byte) ([]byte, error) {
	salt, err := e.store.GetMetadata(metaSalt)
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}

	key, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	if !e.VerifyKey(key) {
		crypto.SecureWipe(key)
		return nil, ErrInvalidPassword
	}
	return key, nil
}

// VerifyKey checks a candidate key against the stored check value in
// constant time. A vault without a check value verifies nothing.
func (e *Engine) VerifyKey(candidate []byte) bool {
	stored, err := e.store.GetMetadata(metaKeyCheck)
	if err != nil {
		return false
	}
	return crypto.ConstantTimeEqual(keyCheckValue(candidate), stored)
}

// InstallKey makes key the live master key. The engine owns the slice
// from here on and wipes it on ClearKey.
func (e *Engine) InstallKey(key []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key != nil {
		crypto.SecureWipe(e.key)
	}
	e.key = key
}

// ClearKey wipes and drops the live master key. Idempotent.
func (e *Engine) ClearKey() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key != nil {
		crypto.SecureWipe(e.key)
		e.key = nil
	}
}

// Unlocked reports whether a live key is installed.
func (e *Engine) Unlocked() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.key != nil
}

// AddEntry encrypts the sensitive fields of a new credential and stores
// it, returning the assigned id.
func (e *Engine) AddEntry(service, username, password, url, notes string) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return 0, ErrVaultLocked
	}

	pwBlob, err := e.provider.Encrypt(e.key, []byte(password))
	if err != nil {
		return 0, fmt.Errorf("vault: failed to encrypt password: %w", err)
	}
	var notesBlob []byte
	if notes != "" {
		notesBlob, err = e.provider.Encrypt(e.key, []byte(notes))
		if err != nil {
			return 0, fmt.Errorf("vault: failed to encrypt notes: %w", err)
		}
	}

	return e.store.Insert(storage.Record{
		Service:  service,
		Username: username,
		Password: pwBlob,
		Notes:    notesBlob,
		URL:      url,
	})
}

// ListEntries returns every live entry, decrypted. A record whose
// ciphertext fails to open is reported in the second return and skipped;
// one bad record never hides the rest.
func (e *Engine) ListEntries() ([]Entry, []EntryError, error) {
	return e.selectEntries(storage.Query{})
}

// SearchEntries returns live entries whose service or username contains q.
func (e *Engine) SearchEntries(q string) ([]Entry, []EntryError, error) {
	byService, byServiceErrs, err := e.selectEntries(storage.Query{Service: q})
	if err != nil {
		return nil, nil, err
	}
	byUser, byUserErrs, err := e.selectEntries(storage.Query{Username: q})
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[uint64]bool, len(byService))
	out := byService
	for _, en := range byService {
		seen[en.ID] = true
	}
	for _, en := range byUser {
		if !seen[en.ID] {
			out = append(out, en)
		}
	}
	errs := byServiceErrs
	seenErr := make(map[uint64]bool, len(byServiceErrs))
	for _, ee := range byServiceErrs {
		seenErr[ee.ID] = true
	}
	for _, ee := range byUserErrs {
		if !seenErr[ee.ID] {
			errs = append(errs, ee)
		}
	}
	return out, errs, nil
}

// GetEntry returns one live entry by id.
func (e *Engine) GetEntry(id uint64) (Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return Entry{}, ErrVaultLocked
	}

	rec, ok, err := e.store.Get(id)
	if err != nil {
		return Entry{}, err
	}
	if !ok || rec.Deleted {
		return Entry{}, ErrEntryNotFound
	}
	return e.decryptRecord(rec)
}

// UpdateEntry applies the given field changes, re-encrypting sensitive
// fields. Returns false when no live entry has the id.
func (e *Engine) UpdateEntry(id uint64, upd EntryUpdate) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return false, ErrVaultLocked
	}

	rec, ok, err := e.store.Get(id)
	if err != nil {
		return false, err
	}
	if !ok || rec.Deleted {
		return false, nil
	}

	var pwBlob, notesBlob []byte
	if upd.Password != nil {
		pwBlob, err = e.provider.Encrypt(e.key, []byte(*upd.Password))
		if err != nil {
			return false, fmt.Errorf("vault: failed to encrypt password: %w", err)
		}
	}
	if upd.Notes != nil {
		if *upd.Notes != "" {
			notesBlob, err = e.provider.Encrypt(e.key, []byte(*upd.Notes))
			if err != nil {
				return false, fmt.Errorf("vault: failed to encrypt notes: %w", err)
			}
		}
	}

	return e.store.Update(id, func(r *storage.Record) {
		if upd.Service != nil {
			r.Service = *upd.Service
		}
		if upd.Username != nil {
			r.Username = *upd.Username
		}
		if upd.URL != nil {
			r.URL = *upd.URL
		}
		if upd.Password != nil {
			r.Password = pwBlob
		}
		if upd.Notes != nil {
			r.Notes = notesBlob
		}
	})
}

// DeleteEntry soft-deletes an entry. Returns false when the id was never
// stored. Deleting twice is harmless.
func (e *Engine) DeleteEntry(id uint64) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return false, ErrVaultLocked
	}
	return e.store.SoftDelete(id)
}

// ChangeMasterPassword re-encrypts every record under a key derived from
// newPassword with a fresh salt. The whole set is rebuilt in memory
// before anything is written, so a failure leaves the old password valid.
func (e *Engine) ChangeMasterPassword(oldPassword, newPassword []byte) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key == nil {
		return ErrVaultLocked
	}

	oldKey, err := e.authenticateLocked(oldPassword)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(oldKey)

	newSalt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveKey(newPassword, newSalt)
	if err != nil {
		return err
	}

	recs, err := e.store.SelectWhere(storage.Query{IncludeDeleted: true})
	if err != nil {
		crypto.SecureWipe(newKey)
		return err
	}

	reencrypted := make([]storage.Record, 0, len(recs))
	for _, rec := range recs {
		out := rec
		out.Password, err = e.reencrypt(rec.Password, oldKey, newKey)
		if err != nil {
			crypto.SecureWipe(newKey)
			return fmt.Errorf("vault: failed to re-encrypt record %d: %w", rec.ID, err)
		}
		out.Notes, err = e.reencrypt(rec.Notes, oldKey, newKey)
		if err != nil {
			crypto.SecureWipe(newKey)
			return fmt.Errorf("vault: failed to re-encrypt record %d: %w", rec.ID, err)
		}
		reencrypted = append(reencrypted, out)
	}

	// Records, salt and check value commit as one batch; a failure leaves
	// the vault fully under the old key.
	meta := map[string][]byte{
		metaSalt:     newSalt,
		metaKeyCheck: keyCheckValue(newKey),
	}
	if err := e.store.ReplaceAll(reencrypted, meta); err != nil {
		crypto.SecureWipe(newKey)
		return err
	}

	crypto.SecureWipe(e.key)
	e.key = newKey
	return nil
}

// ResetVault irreversibly wipes every record and all key material and
// locks the engine.
func (e *Engine) ResetVault() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.DeleteAll(); err != nil {
		return err
	}
	if e.key != nil {
		crypto.SecureWipe(e.key)
		e.key = nil
	}
	return nil
}

// authenticateLocked is Authenticate for callers already holding e.mu.
func (e *Engine) authenticateLocked(password []byte) ([]byte, error) {
	salt, err := e.store.GetMetadata(metaSalt)
	if err == storage.ErrKeyNotFound {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	stored, err := e.store.GetMetadata(metaKeyCheck)
	if err != nil || !crypto.ConstantTimeEqual(keyCheckValue(key), stored) {
		crypto.SecureWipe(key)
		return nil, ErrInvalidPassword
	}
	return key, nil
}

func (e *Engine) selectEntries(q storage.Query) ([]Entry, []EntryError, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return nil, nil, ErrVaultLocked
	}

	recs, err := e.store.SelectWhere(q)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]Entry, 0, len(recs))
	var failures []EntryError
	for _, rec := range recs {
		en, err := e.decryptRecord(rec)
		if err != nil {
			failures = append(failures, EntryError{ID: rec.ID, Err: err})
			continue
		}
		entries = append(entries, en)
	}
	return entries, failures, nil
}

func (e *Engine) decryptRecord(rec storage.Record) (Entry, error) {
	password, err := e.provider.Decrypt(e.key, rec.Password)
	if err != nil {
		return Entry{}, fmt.Errorf("vault: record %d password: %w", rec.ID, err)
	}
	var notes []byte
	if len(rec.Notes) > 0 {
		notes, err = e.provider.Decrypt(e.key, rec.Notes)
		if err != nil {
			return Entry{}, fmt.Errorf("vault: record %d notes: %w", rec.ID, err)
		}
	}
	return Entry{
		ID:        rec.ID,
		Service:   rec.Service,
		Username:  rec.Username,
		Password:  string(password),
		Notes:     string(notes),
		URL:       rec.URL,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// reencrypt moves one ciphertext blob from oldKey to newKey. Empty blobs
// pass through untouched.
func (e *Engine) reencrypt(blob, oldKey, newKey []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	plain, err := e.provider.Decrypt(oldKey, blob)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plain)
	return e.provider.Encrypt(newKey, plain)
}

// keyCheckValue derives the stored verifier for a master key via
// HKDF-SHA256. Comparing verifiers never exposes the key itself.
func keyCheckValue(key []byte) []byte {
	r := hkdf.New(sha256.New, key, nil, []byte(hkdfInfoKeyCheck))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf for a 32-byte read cannot fail
		panic(err)
	}
	return out
}
