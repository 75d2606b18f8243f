// Package enrichment layers flight plan data from an external paid API onto
// tracked aircraft. The scheduler owns the request queue and the rate
// budget; the client owns the lookup, quiet hours, and the response cache.
package enrichment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// Store is the slice of the fusion store the enrichment side needs
type Store interface {
	Lookup(hex string) (tracker.AircraftRecord, bool)
	AttachEnrichment(hex string, e tracker.FlightEnrichment) bool
}

// Enricher performs one enrichment attempt for a hex address
type Enricher interface {
	Enrich(ctx context.Context, hex string)
}

// rateWindow is the sliding 60-second window of external request times
const rateWindow = time.Minute

// Scheduler maintains a FIFO queue of pending hex addresses and drains it
// under the per-minute rate budget. Requesting an already-queued hex moves
// it to the back: dedup plus freshened priority.
type Scheduler struct {
	store  Store
	client Enricher

	maxPerMinute int
	idleSleep    time.Duration
	rateSleep    time.Duration

	mu    sync.Mutex
	queue []string

	winMu  sync.Mutex
	window []time.Time

	logger *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewScheduler creates an enrichment scheduler
func NewScheduler(store Store, client Enricher, maxPerMinute int, log *logger.Logger) *Scheduler {
	if maxPerMinute <= 0 {
		maxPerMinute = 10
	}
	return &Scheduler{
		store:        store,
		client:       client,
		maxPerMinute: maxPerMinute,
		idleSleep:    time.Second,
		rateSleep:    time.Second,
		logger:       log.Named("enrichment"),
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// Request queues a hex address for enrichment. If already queued the entry
// moves to the back; there is never more than one entry per hex.
func (s *Scheduler) Request(hex string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, queued := range s.queue {
		if queued == hex {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.queue = append(s.queue, hex)
}

// QueueLen returns the number of pending requests
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// WindowUsed returns how many requests the sliding window currently holds
func (s *Scheduler) WindowUsed() int {
	s.winMu.Lock()
	defer s.winMu.Unlock()
	return len(s.pruneWindowLocked())
}

// Start launches the drain worker
func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.drainLoop(ctx)
	s.logger.Info("Enrichment scheduler started",
		logger.Int("max_per_minute", s.maxPerMinute))
	return nil
}

// Stop signals the drain worker to exit and waits with a bounded timeout
func (s *Scheduler) Stop() {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("Timed out waiting for enrichment drain loop to stop")
	}
}

type nextStatus int

const (
	nextIdle nextStatus = iota
	nextRateLimited
	nextReady
)

// drainLoop is the single enrichment worker. Rate-limited passes leave the
// head of the queue in place and retry it after a short sleep; an idle sleep
// separates passes regardless of queue state.
func (s *Scheduler) drainLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if s.stoppedNow(ctx) {
			return
		}

		hex, status := s.next()
		switch status {
		case nextReady:
			s.client.Enrich(ctx, hex)
		case nextRateLimited:
			if !s.sleep(ctx, s.rateSleep) {
				return
			}
		case nextIdle:
			if !s.sleep(ctx, s.idleSleep) {
				return
			}
		}
	}
}

// next filters the queue down to eligible entries, then pops the head if
// the rate window has room. An eligible entry is tracked, unenriched, and
// carries a callsign to query by.
func (s *Scheduler) next() (string, nextStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := make([]string, 0, len(s.queue))
	for _, hex := range s.queue {
		rec, ok := s.store.Lookup(hex)
		if !ok || rec.Enrichment != nil || strings.TrimSpace(rec.State.Callsign) == "" {
			continue
		}
		eligible = append(eligible, hex)
	}
	s.queue = eligible

	if len(s.queue) == 0 {
		return "", nextIdle
	}
	if !s.allow() {
		return "", nextRateLimited
	}

	hex := s.queue[0]
	s.queue = s.queue[1:]
	return hex, nextReady
}

// allow consumes one rate-window slot if the budget permits
func (s *Scheduler) allow() bool {
	s.winMu.Lock()
	defer s.winMu.Unlock()

	s.window = s.pruneWindowLocked()
	if len(s.window) >= s.maxPerMinute {
		return false
	}
	s.window = append(s.window, s.now())
	return true
}

// pruneWindowLocked drops timestamps older than the sliding window
func (s *Scheduler) pruneWindowLocked() []time.Time {
	cutoff := s.now().Add(-rateWindow)
	kept := s.window[:0]
	for _, t := range s.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// sleep waits for d unless the scheduler is stopped first
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// stoppedNow reports whether shutdown has been requested
func (s *Scheduler) stoppedNow(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
