// Package opensky polls an OpenSky-style states API for all aircraft inside
// a bounding box around the station. Each poll returns a complete snapshot;
// fusion with the local feed happens downstream in the tracker.
package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yegors/ads-bby/internal/icao"
	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// State vector indices in the states API response. Each state is a
// positional JSON array; null marks an unreported value.
const (
	idxHex           = 0
	idxCallsign      = 1
	idxOriginCountry = 2
	idxTimePosition  = 3
	idxLastContact   = 4
	idxLon           = 5
	idxLat           = 6
	idxBaroAltitude  = 7
	idxOnGround      = 8
	idxVelocity      = 9
	idxTrack         = 10
	idxVerticalRate  = 11
	idxGeoAltitude   = 13
	idxSquawk        = 14
	idxSPI           = 15
	idxCategory      = 17

	minStateFields = 17
)

// BoundingBox is the query window around the station, in decimal degrees
type BoundingBox struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Client fetches state snapshots from the remote feed
type Client struct {
	baseURL    string
	httpClient *http.Client
	box        BoundingBox
	logger     *logger.Logger
}

// NewClient creates a remote feed client for a station position and radius
func NewClient(baseURL string, timeout time.Duration, lat, lon, radiusKM float64, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		box:        boundingBox(lat, lon, radiusKM),
		logger:     log.Named("opensky"),
	}
}

// boundingBox converts a radius around a point into a lat/lon window using
// the small-angle approximation (fine at tracking radii of tens of km)
func boundingBox(lat, lon, radiusKM float64) BoundingBox {
	latDelta := radiusKM / 111.0
	lonDelta := radiusKM / (111.0 * math.Cos(lat*math.Pi/180))
	return BoundingBox{
		LatMin: lat - latDelta,
		LatMax: lat + latDelta,
		LonMin: lon - lonDelta,
		LonMax: lon + lonDelta,
	}
}

// Box returns the query window the client polls
func (c *Client) Box() BoundingBox {
	return c.box
}

// openSkyResponse is the top-level states API document
type openSkyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// FetchStates polls the states API once and returns the parsed snapshot.
// Rows that cannot be parsed are skipped, never fatal; an empty (null)
// states array is a valid empty snapshot.
func (c *Client) FetchStates(ctx context.Context) ([]tracker.AircraftState, error) {
	q := url.Values{}
	q.Set("lamin", fmt.Sprintf("%.4f", c.box.LatMin))
	q.Set("lamax", fmt.Sprintf("%.4f", c.box.LatMax))
	q.Set("lomin", fmt.Sprintf("%.4f", c.box.LonMin))
	q.Set("lomax", fmt.Sprintf("%.4f", c.box.LonMax))
	q.Set("extended", "1")
	reqURL := fmt.Sprintf("%s/states/all?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed openSkyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse states response: %w", err)
	}

	states := make([]tracker.AircraftState, 0, len(parsed.States))
	for _, raw := range parsed.States {
		st, ok := parseState(raw)
		if !ok {
			continue
		}
		states = append(states, st)
	}

	c.logger.Debug("Fetched remote states",
		logger.Int("count", len(states)),
		logger.Int64("feed_time", parsed.Time))

	return states, nil
}

// parseState converts one positional state vector into an aircraft state.
// Returns false for rows too short to be usable or without a hex address.
func parseState(s []interface{}) (tracker.AircraftState, bool) {
	if len(s) < minStateFields {
		return tracker.AircraftState{}, false
	}

	hex := strings.ToLower(strings.TrimSpace(asString(s, idxHex)))
	if hex == "" {
		return tracker.AircraftState{}, false
	}

	st := tracker.AircraftState{
		Hex:           hex,
		Callsign:      strings.TrimSpace(asString(s, idxCallsign)),
		OriginCountry: asString(s, idxOriginCountry),
		Lat:           asFloat(s, idxLat),
		Lon:           asFloat(s, idxLon),
		AltBaro:       asFloat(s, idxBaroAltitude),
		AltGeom:       asFloat(s, idxGeoAltitude),
		Velocity:      asFloat(s, idxVelocity),
		Track:         asFloat(s, idxTrack),
		VerticalRate:  asFloat(s, idxVerticalRate),
		Squawk:        asString(s, idxSquawk),
		OnGround:      asBool(s, idxOnGround),
		SPI:           asBool(s, idxSPI),
		Source:        tracker.SourceRemote,
	}

	if v := asFloat(s, idxLastContact); v != nil {
		st.LastContact = int64(*v)
	}
	if v := asFloat(s, idxTimePosition); v != nil {
		st.LastPosition = int64(*v)
	}
	if v := asFloat(s, idxCategory); v != nil {
		st.Category = int(*v)
	}

	// The feed's origin country is authoritative when present; fall back to
	// the allocation table otherwise
	if st.OriginCountry == "" {
		if name, ok := icao.Country(hex); ok {
			st.OriginCountry = name
		}
	}

	return st, true
}

// asString extracts a string field, tolerating null and wrong types
func asString(s []interface{}, idx int) string {
	if idx >= len(s) {
		return ""
	}
	if v, ok := s[idx].(string); ok {
		return v
	}
	return ""
}

// asFloat extracts a numeric field; null or non-numeric values are absent
func asFloat(s []interface{}, idx int) *float64 {
	if idx >= len(s) {
		return nil
	}
	if v, ok := s[idx].(float64); ok {
		f := v
		return &f
	}
	return nil
}

// asBool extracts a boolean field, defaulting to false
func asBool(s []interface{}, idx int) bool {
	if idx >= len(s) {
		return false
	}
	if v, ok := s[idx].(bool); ok {
		return v
	}
	return false
}
