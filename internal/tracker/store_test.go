package tracker

import (
	"testing"
	"time"

	"github.com/yegors/ads-bby/pkg/logger"
)

func f(v float64) *float64 { return &v }

func testStore(hybrid bool) *Store {
	return NewStore(15*time.Minute, hybrid, logger.NewNop())
}

// testObserver invokes fn on every update; being a pointer it has a stable
// identity for RemoveObserver
type testObserver struct {
	fn func(records []AircraftRecord)
}

func (o *testObserver) OnAircraftUpdated(records []AircraftRecord) { o.fn(records) }

func onUpdate(fn func(records []AircraftRecord)) *testObserver {
	return &testObserver{fn: fn}
}

func TestMergeLocalInsertsNew(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{
		Hex:         "abc123",
		Callsign:    "UAL123",
		Lat:         f(43.6),
		Lon:         f(-79.3),
		LastContact: now,
		Source:      SourceLocal,
	}})

	rec, ok := s.Lookup("abc123")
	if !ok {
		t.Fatal("inserted aircraft not found")
	}
	if rec.State.Callsign != "UAL123" || rec.State.Lat == nil || *rec.State.Lat != 43.6 {
		t.Errorf("unexpected state after insert: %+v", rec.State)
	}
}

func TestMergeDropsStaleUpdates(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Callsign: "NEW999", LastContact: now, Source: SourceLocal,
	}})
	// Same timestamp is not strictly newer; must be dropped
	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Callsign: "OLD111", LastContact: now, Source: SourceRemote,
	}})

	rec, _ := s.Lookup("abc123")
	if rec.State.Callsign != "NEW999" {
		t.Errorf("callsign = %q, stale update must not overwrite", rec.State.Callsign)
	}
	if rec.State.Source != SourceLocal {
		t.Errorf("source = %q, stale update must not overwrite", rec.State.Source)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	now := time.Now().Unix()
	older := AircraftState{Hex: "abc123", Callsign: "FIRST", LastContact: now - 5, Source: SourceRemote}
	newer := AircraftState{Hex: "abc123", Callsign: "SECOND", LastContact: now, Source: SourceLocal}

	a := testStore(true)
	a.MergeLocalIncremental([]AircraftState{older})
	a.MergeLocalIncremental([]AircraftState{newer})

	b := testStore(true)
	b.MergeLocalIncremental([]AircraftState{newer})
	b.MergeLocalIncremental([]AircraftState{older})

	ra, _ := a.Lookup("abc123")
	rb, _ := b.Lookup("abc123")
	if ra.State.Callsign != "SECOND" || rb.State.Callsign != "SECOND" {
		t.Errorf("merge must converge on the newer state regardless of arrival order: %q vs %q",
			ra.State.Callsign, rb.State.Callsign)
	}
	if ra.State.LastContact != rb.State.LastContact {
		t.Error("last contact diverged across arrival orders")
	}
}

func TestMergePreservesAbsentFields(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Lat: f(43.6), Lon: f(-79.3), AltBaro: f(11000),
		Callsign: "UAL123", LastContact: now - 2, LastPosition: now - 2,
		Source: SourceLocal,
	}})
	// A newer message with no position or callsign must not blank them
	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Velocity: f(230), LastContact: now, Source: SourceLocal,
	}})

	rec, _ := s.Lookup("abc123")
	st := rec.State
	if st.Lat == nil || *st.Lat != 43.6 || st.Lon == nil || *st.Lon != -79.3 {
		t.Errorf("position lost across a position-less update: lat=%v lon=%v", st.Lat, st.Lon)
	}
	if st.Callsign != "UAL123" {
		t.Errorf("callsign lost: %q", st.Callsign)
	}
	if st.Velocity == nil || *st.Velocity != 230 {
		t.Errorf("velocity not taken from the newer message: %v", st.Velocity)
	}
	if st.LastContact != now {
		t.Errorf("lastContact = %d, want %d", st.LastContact, now)
	}
	if st.LastPosition != now-2 {
		t.Errorf("lastPosition = %d, must keep the last actual fix", st.LastPosition)
	}
}

func TestRemoteSnapshotReplacesInRemoteOnlyMode(t *testing.T) {
	s := testStore(false)
	now := time.Now().Unix()

	s.MergeRemoteSnapshot([]AircraftState{
		{Hex: "aaa111", LastContact: now, Source: SourceRemote},
		{Hex: "bbb222", LastContact: now, Source: SourceRemote},
	})
	if s.Count() != 2 {
		t.Fatalf("count = %d, want 2", s.Count())
	}

	// bbb222 missing from the next cycle: gone immediately, no TTL wait
	s.MergeRemoteSnapshot([]AircraftState{
		{Hex: "aaa111", LastContact: now + 30, Source: SourceRemote},
	})
	if _, ok := s.Lookup("bbb222"); ok {
		t.Error("aircraft absent from a remote-only snapshot must be removed")
	}
	if _, ok := s.Lookup("aaa111"); !ok {
		t.Error("aircraft present in the snapshot must survive")
	}
}

func TestRemoteSnapshotMergesInHybridMode(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	// Local-feed aircraft the remote cannot see
	s.MergeLocalIncremental([]AircraftState{{
		Hex: "loc001", Callsign: "LOCAL1", LastContact: now, Source: SourceLocal,
	}})
	s.MergeRemoteSnapshot([]AircraftState{
		{Hex: "rem001", LastContact: now, Source: SourceRemote},
	})

	if _, ok := s.Lookup("loc001"); !ok {
		t.Error("hybrid mode must not drop aircraft absent from the remote snapshot")
	}
	if _, ok := s.Lookup("rem001"); !ok {
		t.Error("remote aircraft must be merged in")
	}
}

func TestRemoteSnapshotDoesNotClobberNewerLocal(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Callsign: "LOCAL", Lat: f(43.65), LastContact: now, Source: SourceLocal,
	}})
	// Remote snapshot carries an older observation of the same aircraft
	s.MergeRemoteSnapshot([]AircraftState{{
		Hex: "abc123", Callsign: "REMOTE", Lat: f(43.20), LastContact: now - 10, Source: SourceRemote,
	}})

	rec, _ := s.Lookup("abc123")
	if rec.State.Callsign != "LOCAL" || *rec.State.Lat != 43.65 {
		t.Errorf("older remote state clobbered newer local state: %+v", rec.State)
	}
}

func TestEviction(t *testing.T) {
	s := testStore(true)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.MergeLocalIncremental([]AircraftState{
		{Hex: "stale1", LastContact: base.Add(-16 * time.Minute).Unix(), Source: SourceLocal},
		{Hex: "live01", LastContact: base.Unix(), Source: SourceLocal},
	})

	if _, ok := s.Lookup("stale1"); ok {
		t.Error("aircraft past the expiry window must be evicted")
	}
	if _, ok := s.Lookup("live01"); !ok {
		t.Error("fresh aircraft must survive eviction")
	}
}

func TestAttachEnrichment(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{Hex: "abc123", LastContact: now, Source: SourceLocal}})

	if !s.AttachEnrichment("abc123", FlightEnrichment{Airline: "UA", FlightNumber: "123"}) {
		t.Fatal("attach to an existing record must succeed")
	}
	rec, _ := s.Lookup("abc123")
	if rec.Enrichment == nil || rec.Enrichment.Airline != "UA" {
		t.Errorf("enrichment not attached: %+v", rec.Enrichment)
	}

	if s.AttachEnrichment("gone99", FlightEnrichment{}) {
		t.Error("attach to a missing record must report false")
	}
}

func TestEnrichmentSurvivesStateUpdates(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{Hex: "abc123", LastContact: now - 1, Source: SourceLocal}})
	s.AttachEnrichment("abc123", FlightEnrichment{Airline: "UA"})
	s.MergeLocalIncremental([]AircraftState{{Hex: "abc123", Lat: f(44), LastContact: now, Source: SourceLocal}})

	rec, _ := s.Lookup("abc123")
	if rec.Enrichment == nil || rec.Enrichment.Airline != "UA" {
		t.Error("state updates must not discard attached enrichment")
	}
}

func TestObserverNotified(t *testing.T) {
	s := testStore(true)

	var calls int
	var last []AircraftRecord
	s.AddObserver(onUpdate(func(records []AircraftRecord) {
		calls++
		last = records
	}))

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", LastContact: time.Now().Unix(), Source: SourceLocal,
	}})

	if calls != 1 {
		t.Fatalf("observer called %d times, want 1", calls)
	}
	if len(last) != 1 || last[0].Hex != "abc123" {
		t.Errorf("observer snapshot = %+v", last)
	}
}

func TestRemoveObserverByIdentity(t *testing.T) {
	s := testStore(true)

	var aCalls, bCalls int
	a := onUpdate(func([]AircraftRecord) { aCalls++ })
	b := onUpdate(func([]AircraftRecord) { bCalls++ })
	s.AddObserver(a)
	s.AddObserver(b)
	s.RemoveObserver(a)

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", LastContact: time.Now().Unix(), Source: SourceLocal,
	}})

	if aCalls != 0 {
		t.Error("removed observer must not be called")
	}
	if bCalls != 1 {
		t.Error("remaining observer must still be called")
	}
}

func TestObserverMayReenterStore(t *testing.T) {
	s := testStore(true)

	// An observer that reads back from the store during its callback.
	// If the callback ran under the store lock this would deadlock.
	done := make(chan struct{}, 1)
	s.AddObserver(onUpdate(func([]AircraftRecord) {
		_ = s.Snapshot()
		_, _ = s.Lookup("abc123")
		select {
		case done <- struct{}{}:
		default:
		}
	}))

	finished := make(chan struct{})
	go func() {
		s.MergeLocalIncremental([]AircraftState{{
			Hex: "abc123", LastContact: time.Now().Unix(), Source: SourceLocal,
		}})
		close(finished)
	}()

	select {
	case <-finished:
		<-done
	case <-time.After(2 * time.Second):
		t.Fatal("observer re-entering the store deadlocked")
	}
}

func TestPanickingObserverDoesNotBlockOthers(t *testing.T) {
	s := testStore(true)

	var called bool
	s.AddObserver(onUpdate(func([]AircraftRecord) { panic("boom") }))
	s.AddObserver(onUpdate(func([]AircraftRecord) { called = true }))

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", LastContact: time.Now().Unix(), Source: SourceLocal,
	}})

	if !called {
		t.Error("a panicking observer must not prevent later observers from running")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := testStore(true)
	now := time.Now().Unix()

	s.MergeLocalIncremental([]AircraftState{{
		Hex: "abc123", Lat: f(43.6), LastContact: now, Source: SourceLocal,
	}})

	snap := s.Snapshot()
	*snap[0].State.Lat = 99.9
	snap[0].State.Callsign = "HACKED"

	rec, _ := s.Lookup("abc123")
	if *rec.State.Lat != 43.6 || rec.State.Callsign != "" {
		t.Error("mutating a snapshot must not affect the store")
	}
}
