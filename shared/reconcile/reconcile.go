// Package reconcile merges realtime mutation events into a client's local
// copy of an account's records.
//
// Records are keyed by id. Create and update events upsert, delete events
// remove and leave a tombstone. Ids are never reused, so any event for a
// tombstoned id is stale. Versions decide between two copies of the same
// record: the higher one wins and an equal one is a no-op, which makes
// applying an event twice the same as applying it once.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	v1 "spendsync/shared/contracts/realtime/v1"
)

// Outcome reports what Apply did with an event.
type Outcome int

const (
	// Applied changed the state.
	Applied Outcome = iota
	// Duplicate matched what the state already held.
	Duplicate
	// Stale was older than the held copy, or targeted a deleted record.
	Stale
	// Ignored was invalid or addressed to another account or record type.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Entry is one record held by the client.
type Entry struct {
	ID      string
	Version int64
	Record  json.RawMessage
	// Local marks an optimistic write not yet confirmed by the server.
	Local bool
}

// State is safe for concurrent use.
type State struct {
	accountID  string
	recordType string

	mu         sync.RWMutex
	entries    map[string]Entry
	tombstones map[string]struct{}
}

// New returns an empty State for one account and record type. An empty
// accountID accepts events for any account.
func New(accountID, recordType string) *State {
	return &State{
		accountID:  accountID,
		recordType: recordType,
		entries:    map[string]Entry{},
		tombstones: map[string]struct{}{},
	}
}

// Apply merges one server event.
func (s *State) Apply(ev v1.MutationEvent) Outcome {
	if ev.Validate() != nil {
		return Ignored
	}
	if s.accountID != "" && ev.AccountID != s.accountID {
		return Ignored
	}
	if s.recordType != "" && ev.RecordType != s.recordType {
		return Ignored
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == v1.KindDelete {
		if _, gone := s.tombstones[ev.RecordID]; gone {
			return Duplicate
		}
		delete(s.entries, ev.RecordID)
		s.tombstones[ev.RecordID] = struct{}{}
		return Applied
	}

	if _, gone := s.tombstones[ev.RecordID]; gone {
		return Stale
	}

	cur, ok := s.entries[ev.RecordID]
	switch {
	case !ok:
	case cur.Local:
		// Last write wins: a server copy at or above the optimistic base replaces it.
		if ev.Version < cur.Version {
			return Stale
		}
	case ev.Version < cur.Version:
		return Stale
	case ev.Version == cur.Version:
		return Duplicate
	}

	s.entries[ev.RecordID] = Entry{
		ID:      ev.RecordID,
		Version: ev.Version,
		Record:  cloneRaw(ev.Record),
	}
	return Applied
}

// ApplyEnvelope decodes a mutation envelope and applies it. Envelopes of other
// types are Ignored.
func (s *State) ApplyEnvelope(env v1.Envelope) (Outcome, error) {
	if env.Type != v1.TypeMutation {
		return Ignored, nil
	}
	var ev v1.MutationEvent
	if err := env.Decode(&ev); err != nil {
		return Ignored, fmt.Errorf("reconcile: decode mutation: %w", err)
	}
	return s.Apply(ev), nil
}

// ApplyLocal records an optimistic write. version is the version the edit was
// based on (0 for a record not yet created on the server).
func (s *State) ApplyLocal(id string, version int64, record json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.tombstones[id]; gone {
		return
	}
	s.entries[id] = Entry{ID: id, Version: version, Record: cloneRaw(record), Local: true}
}

// DeleteLocal removes a record optimistically. The server's delete event is
// then a Duplicate.
func (s *State) DeleteLocal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	s.tombstones[id] = struct{}{}
}

// Reset replaces the held records with a full server snapshot. Pending local
// writes are dropped. Tombstones are kept except for ids in the snapshot.
func (s *State) Reset(snapshot []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry, len(snapshot))
	for _, e := range snapshot {
		e.Local = false
		e.Record = cloneRaw(e.Record)
		s.entries[e.ID] = e
		delete(s.tombstones, e.ID)
	}
}

// Get returns the held copy of id.
func (s *State) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of held records.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns the held records ordered by id.
func (s *State) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
