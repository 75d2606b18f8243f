package opensky

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yegors/ads-bby/internal/tracker"
	"github.com/yegors/ads-bby/pkg/logger"
)

// One complete state vector plus one with nulls and one junk row
const statesBody = `{
	"time": 1700000000,
	"states": [
		["3c6444", "DLH9U   ", "Germany", 1699999990, 1699999995, 8.5622, 50.0379, 11277.6, false, 245.3, 87.5, -4.2, null, 10972.8, "1000", false, null, 4],
		["a1b2c3", null, "", null, 1699999995, null, null, null, true, null, null, null, null, null, null, false, null, null],
		["short"]
	]
}`

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(srv.URL, 2*time.Second, 50.0, 8.5, 50, logger.NewNop())
}

func TestFetchStates(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(statesBody))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	states, err := c.FetchStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The junk row is skipped; the other two parse
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}

	st := states[0]
	if st.Hex != "3c6444" {
		t.Errorf("hex = %q", st.Hex)
	}
	if st.Callsign != "DLH9U" {
		t.Errorf("callsign = %q, want trimmed DLH9U", st.Callsign)
	}
	if st.OriginCountry != "Germany" {
		t.Errorf("originCountry = %q", st.OriginCountry)
	}
	if st.Lat == nil || *st.Lat != 50.0379 || st.Lon == nil || *st.Lon != 8.5622 {
		t.Errorf("position = (%v, %v)", st.Lat, st.Lon)
	}
	if st.AltBaro == nil || *st.AltBaro != 11277.6 {
		t.Errorf("altBaro = %v", st.AltBaro)
	}
	if st.AltGeom == nil || *st.AltGeom != 10972.8 {
		t.Errorf("altGeom = %v", st.AltGeom)
	}
	if st.VerticalRate == nil || *st.VerticalRate != -4.2 {
		t.Errorf("verticalRate = %v", st.VerticalRate)
	}
	if st.Squawk != "1000" {
		t.Errorf("squawk = %q", st.Squawk)
	}
	if st.LastContact != 1699999995 || st.LastPosition != 1699999990 {
		t.Errorf("timestamps = %d/%d", st.LastContact, st.LastPosition)
	}
	if st.Category != 4 {
		t.Errorf("category = %d", st.Category)
	}
	if st.Source != tracker.SourceRemote {
		t.Errorf("source = %q", st.Source)
	}

	// Nulls become absent, never zero
	st = states[1]
	if st.Hex != "a1b2c3" {
		t.Errorf("hex = %q", st.Hex)
	}
	if st.Lat != nil || st.Lon != nil || st.AltBaro != nil || st.Velocity != nil {
		t.Error("null numeric fields must be nil")
	}
	if !st.OnGround {
		t.Error("on-ground flag not parsed")
	}
	// Feed gave no country; the allocation table fills it (a1b2c3 is US)
	if st.OriginCountry != "United States" {
		t.Errorf("originCountry = %q, want allocation table fallback", st.OriginCountry)
	}

	// Bounding box must be passed to the feed
	for _, key := range []string{"lamin", "lamax", "lomin", "lomax"} {
		if gotQuery[key] == "" {
			t.Errorf("query parameter %s missing", key)
		}
	}
}

func TestFetchStatesNullStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"time": 1700000000, "states": null}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	states, err := c.FetchStates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 0 {
		t.Errorf("got %d states, want empty snapshot", len(states))
	}
}

func TestFetchStatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.FetchStates(context.Background()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestBoundingBox(t *testing.T) {
	box := boundingBox(50.0, 8.5, 111.0)

	if !almost(box.LatMax-box.LatMin, 2.0) {
		t.Errorf("lat span = %f, want ~2 degrees for a 111 km radius", box.LatMax-box.LatMin)
	}
	// Longitude degrees shrink with latitude; at 50N the span must be wider
	lonSpan := box.LonMax - box.LonMin
	if lonSpan <= 2.0 {
		t.Errorf("lon span = %f, must exceed the lat span away from the equator", lonSpan)
	}
	if !almost(lonSpan, 2.0/math.Cos(50.0*math.Pi/180)) {
		t.Errorf("lon span = %f, want %f", lonSpan, 2.0/math.Cos(50.0*math.Pi/180))
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
