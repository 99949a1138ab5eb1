package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Key layout inside a backend. Records live under an 8-byte big-endian id
// so lexicographic key order equals id order; vault metadata (salt, key
// check value, counters) lives under a separate prefix.
var (
	recordPrefix = []byte("rec/")
	metaPrefix   = []byte("meta/")
	nextIDKey    = []byte("meta/next_id")
)

// Record is one stored credential envelope. Password and Notes hold
// ciphertext blobs produced by the crypto layer; the store never sees
// plaintext for them. Service, Username and URL are plaintext so listings
// and search work without decryption.
type Record struct {
	ID        uint64    `json:"id"`
	Service   string    `json:"service"`
	Username  string    `json:"username"`
	Password  []byte    `json:"password"`
	Notes     []byte    `json:"notes,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"is_deleted"`
}

// Query filters SelectWhere results. Empty fields match everything.
// Matching is a case-insensitive substring test, like the search box it
// serves.
type Query struct {
	Service        string
	Username       string
	IncludeDeleted bool
}

func (q Query) matches(r Record) bool {
	if !q.IncludeDeleted && r.Deleted {
		return false
	}
	if q.Service != "" && !strings.Contains(strings.ToLower(r.Service), strings.ToLower(q.Service)) {
		return false
	}
	if q.Username != "" && !strings.Contains(strings.ToLower(r.Username), strings.ToLower(q.Username)) {
		return false
	}
	return true
}

// Store implements the record and metadata model on a Backend. All record
// mutation happens under one lock so read-merge-write cycles stay
// consistent.
type Store struct {
	mu      sync.Mutex
	backend Backend
}

// NewStore wraps a backend. Pass a Mirror for redundant persistence.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Backend exposes the underlying backend for snapshot and reset paths.
func (s *Store) Backend() Backend { return s.backend }

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

func metaKey(name string) []byte {
	return append(append([]byte{}, metaPrefix...), name...)
}

// Insert assigns the next monotonic id, stamps timestamps, and persists
// the record. Ids are never reused, even after deletion.
func (s *Store) Insert(rec Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	rec.ID = id
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Deleted = false

	if err := s.writeRecord(rec); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the record with the given id, deleted or not. The second
// return is false when no record with that id was ever stored.
func (s *Store) Get(id uint64) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecord(id)
}

// SelectWhere returns the records matching q in id order.
func (s *Store) SelectWhere(q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(recordPrefix)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, key := range keys {
		raw, err := s.backend.Get(key)
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("storage: corrupt record envelope at %x: %w", key, err)
		}
		if q.matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Update applies mutate to the stored record under the store lock and
// writes it back with a fresh updated_at. Returns false when the id does
// not exist. ID, CreatedAt and Deleted are preserved across the mutation.
func (s *Store) Update(id uint64, mutate func(*Record)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.readRecord(id)
	if err != nil || !ok {
		return false, err
	}

	deleted := rec.Deleted
	created := rec.CreatedAt
	mutate(&rec)
	rec.ID = id
	rec.CreatedAt = created
	rec.Deleted = deleted
	rec.UpdatedAt = time.Now().UTC()

	if err := s.writeRecord(rec); err != nil {
		return false, err
	}
	return true, nil
}

// SoftDelete marks the record deleted. The row is kept so history and ids
// survive. Deleting an already-deleted or absent record is a no-op that
// reports whether the record existed.
func (s *Store) SoftDelete(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.readRecord(id)
	if err != nil || !ok {
		return false, err
	}
	if rec.Deleted {
		return true, nil
	}

	rec.Deleted = true
	rec.UpdatedAt = time.Now().UTC()
	if err := s.writeRecord(rec); err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceAll swaps the whole record set in a single backend batch, used
// by snapshot import and master password change. The id counter is
// advanced past the highest imported id, and any metadata values are
// written in the same batch, so the new records and the key material
// that decrypts them land together or not at all.
func (s *Store) ReplaceAll(recs []Record, meta map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys(recordPrefix)
	if err != nil {
		return err
	}

	ops := make([]BatchOp, 0, len(keys)+len(recs)+len(meta)+1)
	for _, key := range keys {
		ops = append(ops, BatchOp{Key: key, Remove: true})
	}

	var maxID uint64
	for _, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("storage: failed to encode record: %w", err)
		}
		ops = append(ops, BatchOp{Key: recordKey(rec.ID), Value: raw})
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, maxID)
	ops = append(ops, BatchOp{Key: nextIDKey, Value: counter})

	for name, value := range meta {
		ops = append(ops, BatchOp{Key: metaKey(name), Value: value})
	}
	return s.backend.Apply(ops)
}

// GetMetadata reads a vault metadata value. Returns ErrKeyNotFound when
// the name is not set.
func (s *Store) GetMetadata(name string) ([]byte, error) {
	return s.backend.Get(metaKey(name))
}

// SetMetadata writes a vault metadata value.
func (s *Store) SetMetadata(name string, value []byte) error {
	return s.backend.Set(metaKey(name), value)
}

// DeleteMetadata removes a vault metadata value.
func (s *Store) DeleteMetadata(name string) error {
	return s.backend.Remove(metaKey(name))
}

// DeleteAll wipes every record and metadata key. Irreversible; only the
// reset path calls this.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Clear()
}

func (s *Store) nextID() (uint64, error) {
	raw, err := s.backend.Get(nextIDKey)
	var last uint64
	switch err {
	case nil:
		last = binary.BigEndian.Uint64(raw)
	case ErrKeyNotFound:
		last = 0
	default:
		return 0, err
	}

	next := last + 1
	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, next)
	if err := s.backend.Set(nextIDKey, counter); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) readRecord(id uint64) (Record, bool, error) {
	raw, err := s.backend.Get(recordKey(id))
	if err == ErrKeyNotFound {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("storage: corrupt record envelope for id %d: %w", id, err)
	}
	return rec, true, nil
}

func (s *Store) writeRecord(rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: failed to encode record: %w", err)
	}
	return s.backend.Set(recordKey(rec.ID), raw)
}
