package state

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultMaxHistory keeps 24h of samples at 5-minute spacing.
const DefaultMaxHistory = 288

// Store is the concurrency-safe holder of the latest known value for every
// tracked source, the device status, the bounded history buffer and the
// active location. Fields are independently replaceable; no operation ever
// blocks on network I/O.
type Store struct {
	mu sync.RWMutex

	snapshots map[SourceKind]Snapshot
	history   []HistoryPoint
	device    *DeviceState
	location  Location

	maxHistory int
}

// NewStore creates a Store. If maxHistory is <= 0 the default retention of
// 288 points applies.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{
		snapshots:  make(map[SourceKind]Snapshot),
		maxHistory: maxHistory,
	}
}

// Snapshot returns the latest snapshot for a source kind, if any.
func (s *Store) Snapshot(kind SourceKind) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[kind]
	return snap, ok
}

// SetSnapshot atomically replaces the snapshot for a source kind and stamps
// it with the current time.
func (s *Store) SetSnapshot(kind SourceKind, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[kind] = Snapshot{
		Kind:      kind,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
}

// AppendHistory pushes a point and trims the buffer to maxHistory entries,
// evicting oldest-first.
func (s *Store) AppendHistory(p HistoryPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, p)
	if len(s.history) > s.maxHistory {
		over := len(s.history) - s.maxHistory
		s.history = s.history[over:]
	}
}

// History returns a copy of the buffered points, oldest first.
func (s *Store) History() []HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryPoint, len(s.history))
	copy(out, s.history)
	return out
}

// Device returns the last known device state, if any.
func (s *Store) Device() (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.device == nil {
		return DeviceState{}, false
	}
	return *s.device, true
}

// SetDevice atomically replaces the device state.
func (s *Store) SetDevice(d DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.device = &d
}

// Location returns the active location as a single atomic snapshot.
func (s *Store) Location() Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.location
}

// SetLocation atomically replaces the active location. Readers never observe
// a name without its matching coordinates.
func (s *Store) SetLocation(l Location) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.location = l
}

// SetCity replaces only the active city name, keeping the coordinates. The
// prediction path selects a city without resolving it.
func (s *Store) SetCity(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.location.Name = name
}
