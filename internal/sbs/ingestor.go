// Package sbs ingests a dump1090-style BaseStation CSV stream (typically
// port 30003) and maintains its own working set of aircraft states, which it
// periodically delivers to the fusion store. The stream is one-way: no
// handshake, no acknowledgement, just newline-delimited messages.
package sbs

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yegors/ads-bby/internal/icao"
	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// TypeResolver looks up an aircraft type designator for a hex address
type TypeResolver interface {
	Resolve(hex string) (string, bool)
}

// StateFunc receives the full current set of tracked states
type StateFunc func(states []tracker.AircraftState)

// Config contains ingestor settings
type Config struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration // bounds each socket read so expiry scans run on idle links
	ReconnectInterval time.Duration
	Expiry            time.Duration
	CallbackInterval  time.Duration
}

// Ingestor maintains a persistent connection to the BaseStation output and
// parses messages into normalized aircraft states
type Ingestor struct {
	cfg      Config
	callback StateFunc
	types    TypeResolver // may be nil
	logger   *logger.Logger

	mu       sync.Mutex
	aircraft map[string]*tracker.AircraftState

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewIngestor creates a new BaseStation ingestor. The callback is invoked on
// the callback interval with a copy of every tracked state.
func NewIngestor(cfg Config, types TypeResolver, callback StateFunc, log *logger.Logger) *Ingestor {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 15 * time.Minute
	}
	if cfg.CallbackInterval <= 0 {
		cfg.CallbackInterval = time.Second
	}
	return &Ingestor{
		cfg:      cfg,
		callback: callback,
		types:    types,
		logger:   log.Named("sbs"),
		aircraft: make(map[string]*tracker.AircraftState),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the connection loop and the periodic state callback
func (i *Ingestor) Start(ctx context.Context) error {
	i.wg.Add(2)
	go i.connectLoop(ctx)
	go i.callbackLoop(ctx)
	i.logger.Info("BaseStation ingestor started",
		logger.String("host", i.cfg.Host),
		logger.Int("port", i.cfg.Port))
	return nil
}

// Stop signals the loops to exit and waits for them with a bounded timeout
func (i *Ingestor) Stop() {
	close(i.stopCh)

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		i.logger.Warn("Timed out waiting for ingestor loops to stop")
	}
}

// States returns a copy of the current tracked states, sorted by hex
func (i *Ingestor) States() []tracker.AircraftState {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]tracker.AircraftState, 0, len(i.aircraft))
	for _, st := range i.aircraft {
		out = append(out, *st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Hex < out[b].Hex })
	return out
}

// Count returns the size of the ingestor's working set
func (i *Ingestor) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.aircraft)
}

// connectLoop runs the Disconnected -> Connecting -> Connected state
// machine until the ingestor is stopped. Any read error, explicit close, or
// zero-byte read drops back to Disconnected, followed by a fixed backoff.
func (i *Ingestor) connectLoop(ctx context.Context) {
	defer i.wg.Done()

	addr := fmt.Sprintf("%s:%d", i.cfg.Host, i.cfg.Port)
	for {
		if i.stopped(ctx) {
			return
		}

		i.logger.Info("Connecting to BaseStation source", logger.String("addr", addr))
		conn, err := net.DialTimeout("tcp", addr, i.cfg.ReadTimeout)
		if err != nil {
			i.logger.Warn("Connection failed",
				logger.String("addr", addr),
				logger.Error(err))
		} else {
			i.logger.Info("Connected to BaseStation source", logger.String("addr", addr))
			i.readLoop(ctx, conn)
			conn.Close()
			i.logger.Info("Disconnected from BaseStation source", logger.String("addr", addr))
		}

		if !i.sleep(ctx, i.cfg.ReconnectInterval) {
			return
		}
	}
}

// readLoop reads until the connection drops or the ingestor stops. Reads are
// bounded by the read timeout so the expiry scan runs even on idle links.
// Partial trailing data is retained across reads.
func (i *Ingestor) readLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 4096)
	var pending string

	for {
		if i.stopped(ctx) {
			return
		}

		if err := conn.SetReadDeadline(i.now().Add(i.cfg.ReadTimeout)); err != nil {
			i.logger.Warn("Failed to set read deadline", logger.Error(err))
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Idle link: still scan for stale aircraft
				i.expire()
				continue
			}
			i.logger.Warn("Read error", logger.Error(err))
			return
		}
		if n == 0 {
			i.logger.Info("Connection closed by source")
			return
		}

		pending += string(buf[:n])
		for {
			idx := strings.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(pending[:idx])
			pending = pending[idx+1:]
			if line != "" {
				i.processMessage(line)
			}
		}

		i.expire()
	}
}

// processMessage parses one line and merges it into the working set.
// Malformed rows are dropped without affecting state.
func (i *Ingestor) processMessage(line string) {
	msg, ok := parseMessage(line, i.now())
	if !ok {
		return
	}

	// Resolve identity data before taking the lock: the type database
	// lookup may hit the network on a cold shard.
	var country, typeCode string
	isNew := !i.known(msg.hex)
	if isNew {
		if name, ok := icao.Country(msg.hex); ok {
			country = name
		}
		if i.types != nil {
			if t, ok := i.types.Resolve(msg.hex); ok {
				typeCode = t
			}
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	st, ok := i.aircraft[msg.hex]
	if !ok {
		st = &tracker.AircraftState{
			Hex:           msg.hex,
			OriginCountry: country,
			AircraftType:  typeCode,
			Source:        tracker.SourceLocal,
		}
		i.aircraft[msg.hex] = st
	}

	// Liveness clock: every parsed message advances last contact,
	// position or not
	st.LastContact = msg.logged

	if msg.callsign != "" {
		st.Callsign = msg.callsign
	}
	if msg.altBaro != nil {
		st.AltBaro = msg.altBaro
	}
	if msg.velocity != nil {
		st.Velocity = msg.velocity
	}
	if msg.track != nil {
		st.Track = msg.track
	}
	if msg.lat != nil {
		st.Lat = msg.lat
	}
	if msg.lon != nil {
		st.Lon = msg.lon
	}
	if msg.verticalRate != nil {
		st.VerticalRate = msg.verticalRate
	}
	if msg.squawk != "" {
		st.Squawk = msg.squawk
	}

	st.SPI = msg.spi
	st.OnGround = msg.onGround

	if msg.lat != nil && msg.lon != nil {
		st.LastPosition = msg.logged
	}
}

// known reports whether the hex is already tracked
func (i *Ingestor) known(hex string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.aircraft[hex]
	return ok
}

// expire removes aircraft whose last contact is older than the expiry
// window. This keeps the ingestor's working set bounded; the fusion store
// applies its own TTL independently.
func (i *Ingestor) expire() {
	cutoff := i.now().Add(-i.cfg.Expiry).Unix()

	i.mu.Lock()
	defer i.mu.Unlock()
	for hex, st := range i.aircraft {
		if st.LastContact < cutoff {
			i.logger.Debug("Expiring aircraft", logger.String("hex", hex))
			delete(i.aircraft, hex)
		}
	}
}

// callbackLoop periodically delivers the tracked states, decoupling the
// per-message parse rate from the fusion rate
func (i *Ingestor) callbackLoop(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.CallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if i.callback != nil {
				i.callback(i.States())
			}
		}
	}
}

// sleep waits for d unless the ingestor is stopped first
func (i *Ingestor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-i.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// stopped reports whether shutdown has been requested
func (i *Ingestor) stopped(ctx context.Context) bool {
	select {
	case <-i.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
