package vault

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// Snapshot file layout:
//
//	magic (8) | header len (4, BE) | header JSON
//	| payload len (4, BE) | encrypted payload | HMAC-SHA256 (32)
//
// The HMAC covers everything before it, keyed separately from the
// encryption key, so any truncation or bit flip is caught before
// decryption is even attempted.
var snapshotMagic = [8]byte{'P', 'V', 'T', '_', 'S', 'N', 'A', 'P'}

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

const (
	hkdfInfoSnapshotEnc = "passvault-snapshot-encryption"
	hkdfInfoSnapshotMAC = "passvault-snapshot-mac"

	snapshotHMACLength = 32

	// maxSnapshotSection bounds header and payload sizes on read.
	maxSnapshotSection = 64 * 1024 * 1024
)

// snapshotKDF records the Argon2id parameters used for this snapshot so
// future parameter changes stay importable.
type snapshotKDF struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

type snapshotHeader struct {
	Version      int         `json:"version"`
	CreatedAt    time.Time   `json:"created_at"`
	VaultVersion int         `json:"vault_version"`
	Cipher       string      `json:"cipher"`
	KDF          snapshotKDF `json:"kdf_params"`
	EntryCount   int         `json:"entry_count"`
	ChecksumAlgo string      `json:"checksum_algorithm"`
}

// snapshotEntry is one plaintext record inside the encrypted payload.
// LegacySite accepts the old "site" field name from before the rename;
// it is normalized into Service at import and never written on export.
type snapshotEntry struct {
	ID         uint64    `json:"id"`
	Service    string    `json:"service,omitempty"`
	LegacySite string    `json:"site,omitempty"`
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Notes      string    `json:"notes,omitempty"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Deleted    bool      `json:"is_deleted"`
}

type snapshotPayload struct {
	Entries []snapshotEntry `json:"entries"`
}

// ExportSnapshot serializes the entire record set, deleted rows included,
// into one opaque authenticated blob protected by password. The snapshot
// uses its own fresh salt, so it stands alone from the vault's key
// material.
func (e *Engine) ExportSnapshot(password []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.key == nil {
		return nil, ErrVaultLocked
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("vault: snapshot password must not be empty")
	}

	recs, err := e.store.SelectWhere(storage.Query{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}

	payload := snapshotPayload{Entries: make([]snapshotEntry, 0, len(recs))}
	for _, rec := range recs {
		pw, err := e.provider.Decrypt(e.key, rec.Password)
		if err != nil {
			return nil, fmt.Errorf("vault: cannot export record %d: %w", rec.ID, err)
		}
		var notes []byte
		if len(rec.Notes) > 0 {
			notes, err = e.provider.Decrypt(e.key, rec.Notes)
			if err != nil {
				return nil, fmt.Errorf("vault: cannot export record %d: %w", rec.ID, err)
			}
		}
		payload.Entries = append(payload.Entries, snapshotEntry{
			ID:        rec.ID,
			Service:   rec.Service,
			Username:  rec.Username,
			Password:  string(pw),
			Notes:     string(notes),
			URL:       rec.URL,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Deleted:   rec.Deleted,
		})
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode snapshot payload: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	encKey, macKey, err := deriveSnapshotKeys(password, salt)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	encrypted, err := e.provider.Encrypt(encKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encrypt snapshot: %w", err)
	}

	header := snapshotHeader{
		Version:      SnapshotVersion,
		CreatedAt:    time.Now().UTC(),
		VaultVersion: CurrentVaultVersion,
		Cipher:       e.provider.Name(),
		KDF: snapshotKDF{
			Salt:        salt,
			Memory:      crypto.Argon2Memory,
			Iterations:  crypto.Argon2Time,
			Parallelism: crypto.Argon2Threads,
		},
		EntryCount:   len(payload.Entries),
		ChecksumAlgo: "hmac-sha256",
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode snapshot header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])
	writeUint32(&buf, uint32(len(headerJSON)))
	buf.Write(headerJSON)
	writeUint32(&buf, uint32(len(encrypted)))
	buf.Write(encrypted)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(buf.Bytes())
	buf.Write(mac.Sum(nil))

	return buf.Bytes(), nil
}

// ImportSnapshot verifies and decrypts blob, then replaces the entire
// record set with its contents re-encrypted under the current master key.
// Verification is complete before anything is written: a corrupt or
// wrongly-keyed snapshot leaves the vault untouched and returns
// ErrSnapshotCorrupt.
func (e *Engine) ImportSnapshot(blob, password []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.key == nil {
		return ErrVaultLocked
	}

	header, encrypted, body, err := parseSnapshot(blob)
	if err != nil {
		return err
	}

	encKey, macKey, err := deriveSnapshotKeys(password, header.KDF.Salt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), blob[len(blob)-snapshotHMACLength:]) {
		return ErrSnapshotCorrupt
	}

	provider, err := providerByName(header.Cipher)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	plaintext, err := provider.Decrypt(encKey, encrypted)
	if err != nil {
		return ErrSnapshotCorrupt
	}
	defer crypto.SecureWipe(plaintext)

	var payload snapshotPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("%w: invalid payload", ErrSnapshotCorrupt)
	}

	// Re-encrypt everything under the live key before any write happens.
	recs := make([]storage.Record, 0, len(payload.Entries))
	for _, en := range payload.Entries {
		service := en.Service
		if service == "" {
			service = en.LegacySite
		}
		pwBlob, err := e.provider.Encrypt(e.key, []byte(en.Password))
		if err != nil {
			return fmt.Errorf("vault: failed to re-encrypt imported entry %d: %w", en.ID, err)
		}
		var notesBlob []byte
		if en.Notes != "" {
			notesBlob, err = e.provider.Encrypt(e.key, []byte(en.Notes))
			if err != nil {
				return fmt.Errorf("vault: failed to re-encrypt imported entry %d: %w", en.ID, err)
			}
		}
		recs = append(recs, storage.Record{
			ID:        en.ID,
			Service:   service,
			Username:  en.Username,
			Password:  pwBlob,
			Notes:     notesBlob,
			URL:       en.URL,
			CreatedAt: en.CreatedAt,
			UpdatedAt: en.UpdatedAt,
			Deleted:   en.Deleted,
		})
	}

	return e.store.ReplaceAll(recs, nil)
}

// parseSnapshot validates the structure of blob and returns the header,
// the encrypted payload, and the byte range the HMAC covers. Every
// structural failure maps to ErrSnapshotCorrupt.
func parseSnapshot(blob []byte) (*snapshotHeader, []byte, []byte, error) {
	r := bytes.NewReader(blob)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != snapshotMagic {
		return nil, nil, nil, ErrSnapshotCorrupt
	}

	headerLen, err := readUint32(r)
	if err != nil || headerLen > maxSnapshotSection {
		return nil, nil, nil, ErrSnapshotCorrupt
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, nil, ErrSnapshotCorrupt
	}
	var header snapshotHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, nil, ErrSnapshotCorrupt
	}
	if header.Version > SnapshotVersion {
		return nil, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, header.Version)
	}
	if len(header.KDF.Salt) < crypto.MinSaltLength {
		return nil, nil, nil, ErrSnapshotCorrupt
	}

	payloadLen, err := readUint32(r)
	if err != nil || payloadLen > maxSnapshotSection {
		return nil, nil, nil, ErrSnapshotCorrupt
	}
	encrypted := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, encrypted); err != nil {
		return nil, nil, nil, ErrSnapshotCorrupt
	}

	if r.Len() != snapshotHMACLength {
		return nil, nil, nil, ErrSnapshotCorrupt
	}

	return &header, encrypted, blob[:len(blob)-snapshotHMACLength], nil
}

// deriveSnapshotKeys stretches password with Argon2id, then splits the
// result into independent encryption and MAC keys with HKDF-SHA256.
func deriveSnapshotKeys(password, salt []byte) (encKey, macKey []byte, err error) {
	if len(password) == 0 {
		return nil, nil, fmt.Errorf("empty password")
	}
	master, err := crypto.DeriveKey(password, salt)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(master)

	encKey, err = deriveHKDF(master, hkdfInfoSnapshotEnc)
	if err != nil {
		return nil, nil, err
	}
	macKey, err = deriveHKDF(master, hkdfInfoSnapshotMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func providerByName(name string) (crypto.Provider, error) {
	switch name {
	case "aes-256-gcm":
		return crypto.GCMProvider{}, nil
	case "chacha20-poly1305":
		return crypto.ChaChaProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown cipher %q", name)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
