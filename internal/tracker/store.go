package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/yegors/ads-bby/pkg/logger"
)

// Observer receives an immutable snapshot of the table after every change.
// Observers are registered and removed by interface identity. Callbacks run
// outside the store lock, so an observer may call back into the store
// (including RequestEnrich paths) without deadlocking.
type Observer interface {
	OnAircraftUpdated(records []AircraftRecord)
}

// Store owns the canonical hex -> record table. It reconciles the remote
// feed's full-replace snapshots with the local feed's incremental updates
// and distributes snapshots to observers.
type Store struct {
	mu      sync.Mutex
	records map[string]*AircraftRecord

	obsMu     sync.Mutex
	observers []Observer

	expiry time.Duration
	hybrid bool // local feed active: remote snapshots merge incrementally
	logger *logger.Logger
	now    func() time.Time
}

// NewStore creates a fusion store. hybrid must be true when a local feed is
// active; it switches remote snapshot handling from full-replace to
// incremental merge.
func NewStore(expiry time.Duration, hybrid bool, log *logger.Logger) *Store {
	return &Store{
		records: make(map[string]*AircraftRecord),
		expiry:  expiry,
		hybrid:  hybrid,
		logger:  log.Named("store"),
		now:     time.Now,
	}
}

// MergeRemoteSnapshot applies one complete poll cycle from the remote feed.
// In remote-only mode the table becomes exactly the snapshot: states are
// replaced wholesale and aircraft absent from the snapshot are removed. In
// hybrid mode states participate in the incremental merge instead.
func (s *Store) MergeRemoteSnapshot(states []AircraftState) {
	s.mu.Lock()

	if s.hybrid {
		for i := range states {
			s.applyIncrementalLocked(&states[i])
		}
	} else {
		seen := make(map[string]bool, len(states))
		for i := range states {
			st := states[i]
			seen[st.Hex] = true
			if rec, ok := s.records[st.Hex]; ok {
				rec.State = st.clone()
			} else {
				s.records[st.Hex] = &AircraftRecord{Hex: st.Hex, State: st.clone()}
			}
		}
		for hex := range s.records {
			if !seen[hex] {
				delete(s.records, hex)
			}
		}
	}

	s.evictLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// MergeLocalIncremental applies a batch of states from the local feed.
// Staleness rule: a state whose LastContact is not strictly newer than the
// existing record's is dropped.
func (s *Store) MergeLocalIncremental(states []AircraftState) {
	s.mu.Lock()
	for i := range states {
		s.applyIncrementalLocked(&states[i])
	}
	s.evictLocked()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// applyIncrementalLocked inserts or merges one state under the store lock
func (s *Store) applyIncrementalLocked(st *AircraftState) {
	rec, ok := s.records[st.Hex]
	if !ok {
		s.records[st.Hex] = &AircraftRecord{Hex: st.Hex, State: st.clone()}
		return
	}
	if st.LastContact <= rec.State.LastContact {
		return
	}
	mergeState(&rec.State, st)
}

// mergeState takes every field the incoming state actually carries and
// leaves the rest of the existing state untouched
func mergeState(existing, incoming *AircraftState) {
	existing.LastContact = incoming.LastContact
	if incoming.LastPosition > existing.LastPosition {
		existing.LastPosition = incoming.LastPosition
	}
	if incoming.Callsign != "" {
		existing.Callsign = incoming.Callsign
	}
	if incoming.OriginCountry != "" {
		existing.OriginCountry = incoming.OriginCountry
	}
	if incoming.Lat != nil {
		existing.Lat = copyFloat(incoming.Lat)
	}
	if incoming.Lon != nil {
		existing.Lon = copyFloat(incoming.Lon)
	}
	if incoming.AltBaro != nil {
		existing.AltBaro = copyFloat(incoming.AltBaro)
	}
	if incoming.AltGeom != nil {
		existing.AltGeom = copyFloat(incoming.AltGeom)
	}
	if incoming.Velocity != nil {
		existing.Velocity = copyFloat(incoming.Velocity)
	}
	if incoming.Track != nil {
		existing.Track = copyFloat(incoming.Track)
	}
	if incoming.VerticalRate != nil {
		existing.VerticalRate = copyFloat(incoming.VerticalRate)
	}
	if incoming.Squawk != "" {
		existing.Squawk = incoming.Squawk
	}
	if incoming.Category != 0 {
		existing.Category = incoming.Category
	}
	// The type hint is resolved once at creation and kept
	if existing.AircraftType == "" && incoming.AircraftType != "" {
		existing.AircraftType = incoming.AircraftType
	}
	// Ground flags default false rather than unknown; always taken
	existing.OnGround = incoming.OnGround
	existing.SPI = incoming.SPI
	existing.Source = incoming.Source
}

// AttachEnrichment sets the record's enrichment data and notifies observers.
// Returns false when the record no longer exists (it may have been evicted
// between scheduling and completion; the attach is then skipped).
func (s *Store) AttachEnrichment(hex string, e FlightEnrichment) bool {
	s.mu.Lock()
	rec, ok := s.records[hex]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.Enrichment = &e
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// Lookup returns a copy of one record
func (s *Store) Lookup(hex string) (AircraftRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hex]
	if !ok {
		return AircraftRecord{}, false
	}
	return rec.clone(), true
}

// Snapshot returns a point-in-time copy of all records, sorted by hex
func (s *Store) Snapshot() []AircraftRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Count returns the number of tracked aircraft
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) snapshotLocked() []AircraftRecord {
	out := make([]AircraftRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex < out[j].Hex })
	return out
}

// evictLocked removes every record whose last contact is older than the
// expiry window. This is the sole removal path in hybrid mode.
func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.expiry).Unix()
	for hex, rec := range s.records {
		if rec.State.LastContact < cutoff {
			s.logger.Debug("Evicting stale aircraft",
				logger.String("hex", hex),
				logger.Int64("last_contact", rec.State.LastContact))
			delete(s.records, hex)
		}
	}
}

// AddObserver registers an observer for table updates
func (s *Store) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters an observer by identity
func (s *Store) RemoveObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for i, reg := range s.observers {
		if reg == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

// notify invokes all observers with the snapshot, outside the store lock.
// A panicking observer is logged and must not affect the others.
func (s *Store) notify(snapshot []AircraftRecord) {
	s.obsMu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.Unlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Observer panicked during notification",
						logger.Any("panic", r))
				}
			}()
			o.OnAircraftUpdated(snapshot)
		}()
	}
}
