package playback

import "sync"

// TransportState is the lifecycle state of the playback session.
type TransportState string

const (
	StateEmpty   TransportState = "empty"
	StateLoading TransportState = "loading"
	StateReady   TransportState = "ready"
	StatePlaying TransportState = "playing"
	StatePaused  TransportState = "paused"
	StateError   TransportState = "error"
)

// Snapshot is one consistent view of the playback session, published to
// every observer on each change.
type Snapshot struct {
	SourceURL    string         `json:"source_url"`
	State        TransportState `json:"state"`
	CurrentTime  float64        `json:"current_time"`
	Duration     float64        `json:"duration"`
	Volume       float64        `json:"volume"`
	Loop         bool           `json:"loop"`
	Generation   uint64         `json:"generation"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Store holds the playback session state for the app's lifetime. The
// controller is its only writer; observers subscribe for every published
// snapshot.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]func(Snapshot)
	next int
}

// NewStore creates a store in the Empty state with the given volume.
func NewStore(volume float64) *Store {
	return &Store{
		snap: Snapshot{State: StateEmpty, Volume: volume},
		subs: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the latest published state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers an observer for every published snapshot and returns
// an unsubscribe function. The observer immediately receives the current
// snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	current := s.snap
	s.mu.Unlock()

	fn(current)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Publish replaces the snapshot and notifies observers. Observers are called
// without the store lock held, each with its own copy.
func (s *Store) Publish(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
