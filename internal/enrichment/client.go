package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// Config contains enrichment client settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Quiet hours: local-time window during which network calls are
	// skipped. -1 on either end disables the window entirely.
	QuietStart int
	QuietEnd   int
	Timezone   string
}

// Client performs flight plan lookups against a flights-by-callsign API.
// Responses for stable routes are cached by callsign so recurring scheduled
// flights cost one external request.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	quietStart int
	quietEnd   int
	loc        *time.Location

	store  Store
	logger *logger.Logger

	cacheMu sync.Mutex
	cache   map[string]tracker.FlightEnrichment

	now func() time.Time
}

// NewClient creates an enrichment client. The timezone must name a loadable
// location when quiet hours are configured.
func NewClient(cfg Config, store Store, log *logger.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		quietStart: cfg.QuietStart,
		quietEnd:   cfg.QuietEnd,
		loc:        loc,
		store:      store,
		logger:     log.Named("enrichment"),
		cache:      make(map[string]tracker.FlightEnrichment),
		now:        time.Now,
	}, nil
}

// airport is the origin/destination object inside a flight leg
type airport struct {
	CodeIATA string `json:"code_iata"`
}

// flightLeg is one candidate flight in the lookup response
type flightLeg struct {
	Status       string  `json:"status"`
	OperatorIATA string  `json:"operator_iata"`
	FlightNumber string  `json:"flight_number"`
	AircraftType string  `json:"aircraft_type"`
	Origin       airport `json:"origin"`
	Destination  airport `json:"destination"`
	EstimatedOut string  `json:"estimated_out"` // departure, ISO-8601
	EstimatedIn  string  `json:"estimated_in"`  // arrival, ISO-8601
}

// flightsResponse is the top-level lookup document
type flightsResponse struct {
	Flights []flightLeg `json:"flights"`
}

// Enrich performs one enrichment attempt. The empty "attempted" marker goes
// onto the record before any network I/O, so a timeout, error, or quiet-hours
// skip never causes the same aircraft to be retried indefinitely.
func (c *Client) Enrich(ctx context.Context, hex string) {
	rec, ok := c.store.Lookup(hex)
	if !ok || rec.Enrichment != nil {
		return
	}
	callsign := strings.TrimSpace(rec.State.Callsign)
	if callsign == "" {
		return
	}

	if !c.store.AttachEnrichment(hex, tracker.FlightEnrichment{}) {
		// Evicted between lookup and attach
		return
	}

	if c.quiet(c.now()) {
		c.logger.Debug("Quiet hours, skipping enrichment lookup",
			logger.String("hex", hex),
			logger.String("callsign", callsign))
		return
	}

	if e, ok := c.cached(callsign); ok {
		c.logger.Debug("Enrichment cache hit",
			logger.String("callsign", callsign))
		c.store.AttachEnrichment(hex, e)
		return
	}

	legs, err := c.fetchFlights(ctx, callsign)
	if err != nil {
		// The empty marker stays: no retry
		c.logger.Warn("Enrichment lookup failed",
			logger.String("hex", hex),
			logger.String("callsign", callsign),
			logger.Error(err))
		return
	}

	e := fromLeg(selectLeg(legs))
	c.store.AttachEnrichment(hex, e)
	c.logger.Info("Aircraft enriched",
		logger.String("hex", hex),
		logger.String("callsign", callsign),
		logger.String("route", e.OriginAirport+"-"+e.DestinationAirport))

	if cacheable(legs) {
		c.cacheMu.Lock()
		c.cache[callsign] = e
		c.cacheMu.Unlock()
	}
}

// cached returns the cached enrichment for a callsign, if admitted earlier
func (c *Client) cached(callsign string) (tracker.FlightEnrichment, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	e, ok := c.cache[callsign]
	return e, ok
}

// quiet reports whether t falls inside the quiet-hours window. Wraparound
// windows (start > end, e.g. 22 to 6) span midnight.
func (c *Client) quiet(t time.Time) bool {
	if c.quietStart < 0 || c.quietEnd < 0 {
		return false
	}
	h := t.In(c.loc).Hour()
	if c.quietStart > c.quietEnd {
		return h >= c.quietStart || h < c.quietEnd
	}
	return h >= c.quietStart && h < c.quietEnd
}

// fetchFlights looks up candidate legs for a callsign within a +/- 1 day
// window around now
func (c *Client) fetchFlights(ctx context.Context, callsign string) ([]flightLeg, error) {
	now := c.now().UTC()
	q := url.Values{}
	q.Set("start", now.Add(-24*time.Hour).Format(time.RFC3339))
	q.Set("end", now.Add(24*time.Hour).Format(time.RFC3339))
	reqURL := fmt.Sprintf("%s/flights/%s?%s", c.baseURL, url.PathEscape(callsign), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flights: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed flightsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse flights response: %w", err)
	}
	return parsed.Flights, nil
}

// selectLeg picks the leg to enrich from: the first leg currently en route,
// else the first leg, else an empty leg
func selectLeg(legs []flightLeg) flightLeg {
	for _, leg := range legs {
		if strings.Contains(leg.Status, "En Route") {
			return leg
		}
	}
	if len(legs) > 0 {
		return legs[0]
	}
	return flightLeg{}
}

// fromLeg converts a leg into the enrichment attached to the record
func fromLeg(leg flightLeg) tracker.FlightEnrichment {
	return tracker.FlightEnrichment{
		Airline:            leg.OperatorIATA,
		FlightNumber:       leg.FlightNumber,
		AircraftType:       leg.AircraftType,
		OriginAirport:      leg.Origin.CodeIATA,
		DestinationAirport: leg.Destination.CodeIATA,
		DepartureTime:      parseLegTime(leg.EstimatedOut),
		EstimatedArrival:   parseLegTime(leg.EstimatedIn),
	}
}

// cacheable reports whether the response may be cached under its callsign:
// every leg must fly the same route on the same type. Recurring scheduled
// routes are stable enough to reuse; anything with variability is not.
func cacheable(legs []flightLeg) bool {
	if len(legs) == 0 {
		return false
	}
	first := legs[0]
	for _, leg := range legs[1:] {
		if leg.Origin.CodeIATA != first.Origin.CodeIATA ||
			leg.Destination.CodeIATA != first.Destination.CodeIATA ||
			leg.AircraftType != first.AircraftType {
			return false
		}
	}
	return true
}

// parseLegTime parses an ISO-8601 timestamp, tolerating a trailing Z.
// Absent or unparseable values become nil.
func parseLegTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
