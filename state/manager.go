package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/pratokko/stable-coin/storage"
)

// Manager layers an uncommitted write set over a backing key-value database
// and journals every overwrite so a whole unit of work can be reverted. The
// engine snapshots before each mutating operation and reverts on any failure,
// which gives every operation all-or-nothing semantics without the backing
// store needing transactions.
//
// A Manager is not safe for concurrent use; callers serialize operations.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager wraps the provided database in a fresh session manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key was present at all.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errors.New("state: manager not configured")
	}
	if raw, ok := m.dirty[string(key)]; ok {
		if err := rlp.DecodeBytes(raw, out); err != nil {
			return false, fmt.Errorf("state: decode %q: %w", key, err)
		}
		return true, nil
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value and stages it under key in the uncommitted write set.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return errors.New("state: manager not configured")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	prev, existed := m.dirty[string(key)]
	m.journal = append(m.journal, journalEntry{key: string(key), prev: prev, existed: existed})
	m.dirty[string(key)] = raw
	return nil
}

// Snapshot marks the current journal position. The returned revision can be
// passed to RevertToSnapshot to unwind everything staged afterwards.
func (m *Manager) Snapshot() int {
	if m == nil {
		return 0
	}
	return len(m.journal)
}

// RevertToSnapshot unwinds the write set back to the given revision.
func (m *Manager) RevertToSnapshot(revision int) {
	if m == nil || revision < 0 || revision > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= revision; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:revision]
}

// Commit flushes the staged write set to the backing database and resets the
// journal. Snapshots taken before a commit are invalidated.
func (m *Manager) Commit() error {
	if m == nil {
		return errors.New("state: manager not configured")
	}
	for key, raw := range m.dirty {
		if err := m.db.Put([]byte(key), raw); err != nil {
			return fmt.Errorf("state: commit %q: %w", key, err)
		}
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Pending reports how many keys are staged but not yet committed.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.dirty)
}
