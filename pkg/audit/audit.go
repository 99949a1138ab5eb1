// Package audit provides an append-only operation log with an HMAC chain
// for tamper detection. Records are JSONL, one file per month; the chain
// key is derived from the vault master key, so the log can only be
// verified by someone who can unlock the vault.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Operation types recorded in the log.
const (
	OpVaultInit         = "vault.init"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"
	OpVaultReset        = "vault.reset"
	OpPasswordChange    = "vault.password_change"

	OpEntryAdd    = "entry.add"
	OpEntryUpdate = "entry.update"
	OpEntryDelete = "entry.delete"
	OpEntryList   = "entry.list"

	OpSnapshotExport = "snapshot.export"
	OpSnapshotImport = "snapshot.import"
)

// Result indicates the outcome of an operation.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

const hkdfInfoAudit = "passvault-audit-v1"

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	SessionID string `json:"session"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`

	// EntryID ties the event to a vault record without revealing its
	// contents. Zero when the operation is not entry-scoped.
	EntryID uint64 `json:"entry_id,omitempty"`

	Chain Chain `json:"chain"`
}

// Chain links each record to its predecessor. Sequence numbers are
// strictly increasing; the first record chains from "genesis".
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends events to monthly JSONL files under its directory.
// SetKey must be called with the master key before logging; until then
// Log is a silent no-op, so a locked vault produces no records.
type Logger struct {
	mu        sync.Mutex
	dir       string
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
}

// NewLogger creates a logger writing under dir. The directory is created
// lazily on first write.
func NewLogger(dir string) *Logger {
	return &Logger{
		dir:       dir,
		prevHash:  "genesis",
		sessionID: uuid.NewString(),
	}
}

// SetKey derives the chain HMAC key from the master key via HKDF-SHA256
// and restores the persisted chain position.
func (l *Logger) SetKey(masterKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, masterKey, nil, []byte(hkdfInfoAudit))
	l.hmacKey = make([]byte, 32)
	if _, err := r.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}

	if err := l.loadState(); err != nil {
		// First run or missing state file; start a fresh chain.
		l.sequence = 0
		l.prevHash = "genesis"
	}
	return nil
}

// ClearKey drops the chain key, silencing the logger until the next
// SetKey. Called on lock.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.hmacKey {
		l.hmacKey[i] = 0
	}
	l.hmacKey = nil
}

// Log appends one event. entryID may be zero for vault-level operations;
// opErr, when non-nil, records the failure message alongside the result.
func (l *Logger) Log(op string, entryID uint64, opErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		SessionID: l.sessionID,
		Result:    ResultSuccess,
		EntryID:   entryID,
	}
	if opErr != nil {
		event.Result = ResultError
		event.Error = opErr.Error()
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.recordHMAC(&event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	return l.saveState()
}

// Verify walks the whole log and checks sequence continuity, chain links,
// and each record's HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, fmt.Errorf("audit: HMAC key not set")
	}

	result := &VerifyResult{Valid: true}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)

	expectedPrev := "genesis"
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for i := range events {
			event := &events[i]
			result.Records++

			if event.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s: expected prev %s, got %s",
					event.ID, expectedPrev, event.Chain.PrevHash))
			}
			if event.Chain.HMAC != l.recordHMAC(event) {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", event.ID))
			}

			expectedPrev = event.Chain.HMAC
			expectedSeq++
		}
	}

	return result, nil
}

// VerifyResult reports a chain verification pass.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// ListEvents returns up to limit most recent events (0 means all),
// optionally only those after since.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)

	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}

	if !since.IsZero() {
		filtered := all[:0]
		for _, event := range all {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err != nil {
				continue
			}
			if ts.After(since) {
				filtered = append(filtered, event)
			}
		}
		all = filtered
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Dir returns the log directory.
func (l *Logger) Dir() string { return l.dir }

// recordHMAC computes the chain HMAC over the record's significant
// fields in a fixed order.
func (l *Logger) recordHMAC(event *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.SessionID,
		event.Result,
		event.Error,
		event.EntryID,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) writeEvent(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var event Event
				if err := json.Unmarshal(data[start:i], &event); err != nil {
					return nil, fmt.Errorf("failed to parse line: %w", err)
				}
				events = append(events, event)
			}
			start = i + 1
		}
	}
	return events, nil
}
