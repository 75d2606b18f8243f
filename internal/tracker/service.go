package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/ads-bby/pkg/logger"
)

// RemoteFeed is the polled wide-area feed
type RemoteFeed interface {
	FetchStates(ctx context.Context) ([]AircraftState, error)
}

// EnrichRequester accepts enrichment requests by hex address. Requests are
// hints; the enrichment side decides eligibility and timing.
type EnrichRequester interface {
	Request(hex string)
}

// Service drives the fusion store: it polls the remote feed on a fixed
// interval and offers the merge entry points the local feed and the API
// layer use
type Service struct {
	store  *Store
	remote RemoteFeed

	interval time.Duration
	backoff  time.Duration

	enrichMu sync.Mutex
	enricher EnrichRequester

	logger *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the tracking service around a fusion store
func NewService(store *Store, remote RemoteFeed, interval, backoff time.Duration, log *logger.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	return &Service{
		store:    store,
		remote:   remote,
		interval: interval,
		backoff:  backoff,
		logger:   log.Named("tracker"),
		stopCh:   make(chan struct{}),
	}
}

// SetEnricher wires the enrichment scheduler in. Must be called before
// Start; nil leaves enrichment requests unrouted.
func (s *Service) SetEnricher(e EnrichRequester) {
	s.enrichMu.Lock()
	defer s.enrichMu.Unlock()
	s.enricher = e
}

// Start launches the remote poll loop
func (s *Service) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.pollLoop(ctx)
	s.logger.Info("Tracking service started",
		logger.Duration("poll_interval", s.interval))
	return nil
}

// Stop signals the poll loop to exit and waits for it with a bounded timeout
func (s *Service) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("Timed out waiting for poll loop to stop")
	}
}

// pollLoop fetches the remote snapshot on the poll interval. A failed poll
// logs, waits out the backoff and tries again; the loop itself never exits
// on error.
func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.pollOnce(ctx); err != nil {
			s.logger.Warn("Remote poll failed", logger.Error(err))
			if !s.sleep(ctx, s.backoff) {
				return
			}
			continue
		}
		if !s.sleep(ctx, s.interval) {
			return
		}
	}
}

// pollOnce performs one remote fetch-and-merge cycle
func (s *Service) pollOnce(ctx context.Context) error {
	states, err := s.remote.FetchStates(ctx)
	if err != nil {
		return err
	}

	s.store.MergeRemoteSnapshot(states)
	s.logger.Debug("Merged remote snapshot",
		logger.Int("states", len(states)),
		logger.Int("tracked", s.store.Count()))

	s.requestEligibleEnrichment()
	return nil
}

// IngestLocal merges a batch from the local feed. Wired as the BaseStation
// ingestor's periodic callback.
func (s *Service) IngestLocal(states []AircraftState) {
	s.store.MergeLocalIncremental(states)
	s.requestEligibleEnrichment()
}

// requestEligibleEnrichment queues an enrichment request for every tracked
// aircraft that has a callsign and no enrichment yet. The scheduler dedups,
// so repeating requests across cycles is cheap.
func (s *Service) requestEligibleEnrichment() {
	s.enrichMu.Lock()
	enricher := s.enricher
	s.enrichMu.Unlock()
	if enricher == nil {
		return
	}

	for _, rec := range s.store.Snapshot() {
		if rec.Enrichment == nil && rec.State.Callsign != "" {
			enricher.Request(rec.Hex)
		}
	}
}

// RequestEnrich queues an explicit enrichment request for one aircraft.
// Returns false when the aircraft is not tracked or no enricher is wired.
func (s *Service) RequestEnrich(hex string) bool {
	s.enrichMu.Lock()
	enricher := s.enricher
	s.enrichMu.Unlock()
	if enricher == nil {
		return false
	}
	if _, ok := s.store.Lookup(hex); !ok {
		return false
	}
	enricher.Request(hex)
	return true
}

// Snapshot returns the current fused table, sorted by hex
func (s *Service) Snapshot() []AircraftRecord {
	return s.store.Snapshot()
}

// Lookup returns one record by hex address
func (s *Service) Lookup(hex string) (AircraftRecord, bool) {
	return s.store.Lookup(hex)
}

// Count returns the number of tracked aircraft
func (s *Service) Count() int {
	return s.store.Count()
}

// AddObserver registers an observer on the underlying store
func (s *Service) AddObserver(o Observer) {
	s.store.AddObserver(o)
}

// RemoveObserver unregisters an observer from the underlying store
func (s *Service) RemoveObserver(o Observer) {
	s.store.RemoveObserver(o)
}

// sleep waits for d unless the service is stopped first
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
