package playback

import "testing"

func TestStoreSubscribeDeliversCurrentThenUpdates(t *testing.T) {
	s := NewStore(0.8)

	var seen []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		seen = append(seen, snap)
	})

	if len(seen) != 1 {
		t.Fatalf("subscriber received %d snapshots on subscribe, want 1", len(seen))
	}
	if seen[0].State != StateEmpty || seen[0].Volume != 0.8 {
		t.Errorf("initial snapshot = %+v", seen[0])
	}

	s.Publish(Snapshot{State: StatePlaying, CurrentTime: 2.5, Volume: 0.8})
	if len(seen) != 2 {
		t.Fatalf("subscriber received %d snapshots, want 2", len(seen))
	}
	if seen[1].State != StatePlaying || seen[1].CurrentTime != 2.5 {
		t.Errorf("published snapshot = %+v", seen[1])
	}
	if got := s.Snapshot(); got != seen[1] {
		t.Errorf("Snapshot() = %+v, want last published", got)
	}

	unsubscribe()
	s.Publish(Snapshot{State: StatePaused})
	if len(seen) != 2 {
		t.Errorf("unsubscribed observer still notified, got %d snapshots", len(seen))
	}
}

func TestStoreMultipleSubscribers(t *testing.T) {
	s := NewStore(1.0)

	counts := [2]int{}
	s.Subscribe(func(Snapshot) { counts[0]++ })
	s.Subscribe(func(Snapshot) { counts[1]++ })

	s.Publish(Snapshot{State: StateLoading})
	s.Publish(Snapshot{State: StateReady, Duration: 4})

	for i, n := range counts {
		if n != 3 { // initial + two publishes
			t.Errorf("subscriber %d notified %d times, want 3", i, n)
		}
	}
}
