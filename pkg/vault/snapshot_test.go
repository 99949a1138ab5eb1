package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/passvault/passvault/pkg/crypto"
	"github.com/passvault/passvault/pkg/storage"
)

// TestSnapshotRoundTrip tests export and import into a second vault
func TestSnapshotRoundTrip(t *testing.T) {
	src, _ := newTestEngine(t)

	id1, err := src.AddEntry("github.com", "alice", "hunter2", "https://github.com", "work")
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	id2, err := src.AddEntry("gitlab.com", "bob", "swordfish", "", "")
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	// Deleted rows travel with the snapshot too
	if _, err := src.DeleteEntry(id2); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}

	blob, err := src.ExportSnapshot([]byte("backup password"))
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	// A fresh vault with a different master password imports it
	dst := NewEngine(storage.NewStore(storage.NewMemBackend()), crypto.ChaChaProvider{})
	key, err := dst.Initialize([]byte("another master pw"))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	dst.InstallKey(key)

	if err := dst.ImportSnapshot(blob, []byte("backup password")); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}

	entry, err := dst.GetEntry(id1)
	if err != nil {
		t.Fatalf("GetEntry() after import error = %v", err)
	}
	if entry.Password != "hunter2" || entry.Notes != "work" {
		t.Errorf("imported entry = %+v, want original plaintext", entry)
	}
	if _, err := dst.GetEntry(id2); err != ErrEntryNotFound {
		t.Errorf("deleted entry visible after import: %v", err)
	}
}

// TestImportSnapshotWrongPassword tests that a wrong password applies nothing
func TestImportSnapshotWrongPassword(t *testing.T) {
	src, _ := newTestEngine(t)
	if _, err := src.AddEntry("github.com", "alice", "hunter2", "", ""); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	blob, err := src.ExportSnapshot([]byte("backup password"))
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	dst, _ := newTestEngine(t)
	existingID, err := dst.AddEntry("keep.me", "carol", "pw", "", "")
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}

	if err := dst.ImportSnapshot(blob, []byte("wrong password")); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Fatalf("ImportSnapshot() error = %v, want %v", err, ErrSnapshotCorrupt)
	}

	// The destination vault is untouched
	if _, err := dst.GetEntry(existingID); err != nil {
		t.Errorf("existing entry lost after failed import: %v", err)
	}
}

// TestImportSnapshotTampered tests that any flipped bit is rejected
func TestImportSnapshotTampered(t *testing.T) {
	src, _ := newTestEngine(t)
	if _, err := src.AddEntry("github.com", "alice", "hunter2", "", ""); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	blob, err := src.ExportSnapshot([]byte("backup password"))
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	dst, _ := newTestEngine(t)

	// Flip a bit in a few representative positions: header, payload, trailer
	positions := []int{10, len(blob) / 2, len(blob) - 1}
	for _, pos := range positions {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[pos] ^= 0x01

		if err := dst.ImportSnapshot(tampered, []byte("backup password")); !errors.Is(err, ErrSnapshotCorrupt) {
			t.Errorf("ImportSnapshot() with bit %d flipped error = %v, want %v", pos, err, ErrSnapshotCorrupt)
		}
	}
}

// TestImportSnapshotFailedWriteLeavesVault tests that a storage failure
// during the replace commit leaves the destination untouched
func TestImportSnapshotFailedWriteLeavesVault(t *testing.T) {
	src, _ := newTestEngine(t)
	if _, err := src.AddEntry("github.com", "alice", "hunter2", "", ""); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	blob, err := src.ExportSnapshot([]byte("backup password"))
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	backend := &applyFailBackend{MemBackend: storage.NewMemBackend()}
	dst := NewEngine(storage.NewStore(backend), crypto.ChaChaProvider{})
	key, err := dst.Initialize([]byte("another master pw"))
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	dst.InstallKey(key)
	existingID, err := dst.AddEntry("keep.me", "carol", "pw", "", "")
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}

	backend.fail = true
	if err := dst.ImportSnapshot(blob, []byte("backup password")); err == nil {
		t.Fatal("ImportSnapshot() with failing commit = nil, want error")
	}
	backend.fail = false

	entry, err := dst.GetEntry(existingID)
	if err != nil || entry.Password != "pw" {
		t.Errorf("existing entry after failed import = %+v, %v, want intact", entry, err)
	}
}

// TestImportSnapshotGarbage tests structural rejection
func TestImportSnapshotGarbage(t *testing.T) {
	dst, _ := newTestEngine(t)

	cases := [][]byte{
		nil,
		[]byte("not a snapshot"),
		make([]byte, 4),
		append(snapshotMagic[:], 0xFF, 0xFF, 0xFF, 0xFF),
	}
	for i, blob := range cases {
		if err := dst.ImportSnapshot(blob, []byte("pw")); !errors.Is(err, ErrSnapshotCorrupt) {
			t.Errorf("case %d: ImportSnapshot() error = %v, want %v", i, err, ErrSnapshotCorrupt)
		}
	}
}

// TestImportSnapshotLegacySiteField tests normalization of the old field name
func TestImportSnapshotLegacySiteField(t *testing.T) {
	// Build a payload entry by hand using the legacy "site" key
	raw := []byte(`{"entries":[{"id":1,"site":"legacy.example","username":"alice","password":"pw","created_at":"2020-01-01T00:00:00Z","updated_at":"2020-01-01T00:00:00Z"}]}`)
	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Entries[0].LegacySite != "legacy.example" {
		t.Fatalf("LegacySite = %q, want %q", payload.Entries[0].LegacySite, "legacy.example")
	}

	// Route it through a real export/import by writing the legacy shape
	// into a snapshot built with the normal codec.
	src, _ := newTestEngine(t)
	if _, err := src.AddEntry("placeholder", "u", "p", "", ""); err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	dst, _ := newTestEngine(t)

	blob := buildSnapshotForTest(t, src, raw, []byte("backup password"))
	if err := dst.ImportSnapshot(blob, []byte("backup password")); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}

	entry, err := dst.GetEntry(1)
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if entry.Service != "legacy.example" {
		t.Errorf("Service = %q, want normalized from legacy site field", entry.Service)
	}
}

// buildSnapshotForTest assembles a valid snapshot around an arbitrary
// plaintext payload, reusing the engine's cipher and key schedule.
func buildSnapshotForTest(t *testing.T, e *Engine, plaintext, password []byte) []byte {
	t.Helper()

	blob, err := e.ExportSnapshot(password)
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	header, _, _, err := parseSnapshot(blob)
	if err != nil {
		t.Fatalf("parseSnapshot() error = %v", err)
	}

	encKey, macKey, err := deriveSnapshotKeys(password, header.KDF.Salt)
	if err != nil {
		t.Fatalf("deriveSnapshotKeys() error = %v", err)
	}
	provider, err := providerByName(header.Cipher)
	if err != nil {
		t.Fatalf("providerByName() error = %v", err)
	}
	encrypted, err := provider.Encrypt(encKey, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	out := append([]byte{}, snapshotMagic[:]...)
	out = appendUint32(out, uint32(len(headerJSON)))
	out = append(out, headerJSON...)
	out = appendUint32(out, uint32(len(encrypted)))
	out = append(out, encrypted...)
	out = append(out, computeTestHMAC(macKey, out)...)
	return out
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func computeTestHMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
