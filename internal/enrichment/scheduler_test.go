package enrichment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// fakeStore is an in-memory Store with an attach log
type fakeStore struct {
	mu        sync.Mutex
	recs      map[string]tracker.AircraftRecord
	attachLog map[string][]tracker.FlightEnrichment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recs:      make(map[string]tracker.AircraftRecord),
		attachLog: make(map[string][]tracker.FlightEnrichment),
	}
}

func (fs *fakeStore) add(hex, callsign string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.recs[hex] = tracker.AircraftRecord{
		Hex:   hex,
		State: tracker.AircraftState{Hex: hex, Callsign: callsign},
	}
}

func (fs *fakeStore) Lookup(hex string) (tracker.AircraftRecord, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.recs[hex]
	return rec, ok
}

func (fs *fakeStore) AttachEnrichment(hex string, e tracker.FlightEnrichment) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.recs[hex]
	if !ok {
		return false
	}
	rec.Enrichment = &e
	fs.recs[hex] = rec
	fs.attachLog[hex] = append(fs.attachLog[hex], e)
	return true
}

func (fs *fakeStore) attaches(hex string) []tracker.FlightEnrichment {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]tracker.FlightEnrichment, len(fs.attachLog[hex]))
	copy(out, fs.attachLog[hex])
	return out
}

// recordingEnricher captures the hexes handed off by the drain loop
type recordingEnricher struct {
	mu    sync.Mutex
	hexes []string
}

func (re *recordingEnricher) Enrich(ctx context.Context, hex string) {
	re.mu.Lock()
	defer re.mu.Unlock()
	re.hexes = append(re.hexes, hex)
}

func (re *recordingEnricher) seen() []string {
	re.mu.Lock()
	defer re.mu.Unlock()
	out := make([]string, len(re.hexes))
	copy(out, re.hexes)
	return out
}

func TestRequestDedupAndFreshen(t *testing.T) {
	s := NewScheduler(newFakeStore(), &recordingEnricher{}, 10, logger.NewNop())

	s.Request("aaa111")
	s.Request("bbb222")
	s.Request("aaa111") // repeat moves it to the back

	if len(s.queue) != 2 {
		t.Fatalf("queue length = %d, want 2 (duplicates collapse)", len(s.queue))
	}
	if s.queue[0] != "bbb222" || s.queue[1] != "aaa111" {
		t.Errorf("queue order = %v, want [bbb222 aaa111]", s.queue)
	}
}

func TestNextFiltersIneligible(t *testing.T) {
	store := newFakeStore()
	store.add("enrich1", "UAL123")
	store.add("nocall1", "") // blank callsign
	store.add("done001", "ACA202")
	store.AttachEnrichment("done001", tracker.FlightEnrichment{})

	s := NewScheduler(store, &recordingEnricher{}, 10, logger.NewNop())
	s.Request("ghost99") // never tracked
	s.Request("nocall1")
	s.Request("done001")
	s.Request("enrich1")

	hex, status := s.next()
	if status != nextReady || hex != "enrich1" {
		t.Fatalf("next() = (%q, %d), want the only eligible entry", hex, status)
	}
	if len(s.queue) != 0 {
		t.Errorf("ineligible entries must be filtered out, queue = %v", s.queue)
	}
}

func TestRateWindowCapsRequests(t *testing.T) {
	store := newFakeStore()
	store.add("aaa111", "UAL123")
	store.add("bbb222", "ACA202")
	store.add("ccc333", "DLH404")

	s := NewScheduler(store, &recordingEnricher{}, 2, logger.NewNop())
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Request("aaa111")
	s.Request("bbb222")
	s.Request("ccc333")

	if hex, status := s.next(); status != nextReady || hex != "aaa111" {
		t.Fatalf("first next() = (%q, %d)", hex, status)
	}
	if hex, status := s.next(); status != nextReady || hex != "bbb222" {
		t.Fatalf("second next() = (%q, %d)", hex, status)
	}

	// Budget exhausted: the head stays queued
	if _, status := s.next(); status != nextRateLimited {
		t.Fatalf("third next() status = %d, want rate limited", status)
	}
	if len(s.queue) != 1 || s.queue[0] != "ccc333" {
		t.Errorf("rate-limited entry must stay at the head, queue = %v", s.queue)
	}

	// Window slides: a minute later the budget frees up
	base = base.Add(61 * time.Second)
	if hex, status := s.next(); status != nextReady || hex != "ccc333" {
		t.Errorf("next() after window slide = (%q, %d), want ready", hex, status)
	}
}

func TestNextIdleOnEmptyQueue(t *testing.T) {
	s := NewScheduler(newFakeStore(), &recordingEnricher{}, 10, logger.NewNop())
	if _, status := s.next(); status != nextIdle {
		t.Errorf("next() on empty queue = %d, want idle", status)
	}
}

func TestDrainLoopHandsOffEligible(t *testing.T) {
	store := newFakeStore()
	store.add("abc123", "UAL123")

	enricher := &recordingEnricher{}
	s := NewScheduler(store, enricher, 10, logger.NewNop())
	s.idleSleep = 10 * time.Millisecond
	s.rateSleep = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Request("abc123")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, hex := range enricher.seen() {
			if hex == "abc123" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("drain loop never handed off the queued aircraft")
}
