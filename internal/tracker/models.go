package tracker

import "time"

// Source identifies which feed last attributed a record's origin data
type Source string

const (
	SourceRemote Source = "remote" // wide-area polled feed
	SourceLocal  Source = "local"  // BaseStation stream from a local receiver
)

// AircraftState is one aircraft's latest kinematic and identity snapshot
// from either feed. Optional numeric fields are pointers: nil means the
// source never reported a value, which is distinct from zero.
type AircraftState struct {
	Hex           string   `json:"hex"`                      // 24-bit transponder address, lower case
	Callsign      string   `json:"callsign,omitempty"`       // trimmed; empty when unknown
	OriginCountry string   `json:"origin_country,omitempty"` // country of registration
	Lat           *float64 `json:"lat,omitempty"`
	Lon           *float64 `json:"lon,omitempty"`
	AltBaro       *float64 `json:"alt_baro,omitempty"`      // barometric altitude, meters
	AltGeom       *float64 `json:"alt_geom,omitempty"`      // geometric altitude, meters
	Velocity      *float64 `json:"velocity,omitempty"`      // ground speed, m/s
	Track         *float64 `json:"track,omitempty"`         // true track, degrees
	VerticalRate  *float64 `json:"vertical_rate,omitempty"` // m/s, negative descending
	Squawk        string   `json:"squawk,omitempty"`
	OnGround      bool     `json:"on_ground"`
	SPI           bool     `json:"spi"` // special position indicator
	Category      int      `json:"category"`
	AircraftType  string   `json:"aircraft_type,omitempty"` // type designator hint from the type database
	LastContact   int64    `json:"last_contact"`            // Unix seconds of the most recent message of any kind
	LastPosition  int64    `json:"last_position,omitempty"` // Unix seconds of the most recent position fix
	Source        Source   `json:"source"`
}

// HasPosition reports whether the state carries a complete position fix
func (s *AircraftState) HasPosition() bool {
	return s.Lat != nil && s.Lon != nil
}

// FlightEnrichment is supplemental flight plan data layered onto a record.
// A present-but-empty value means an enrichment attempt was made and either
// skipped (quiet hours) or returned nothing; it is never retried.
type FlightEnrichment struct {
	Airline            string     `json:"airline,omitempty"`
	FlightNumber       string     `json:"flight_number,omitempty"`
	AircraftType       string     `json:"aircraft_type,omitempty"`
	OriginAirport      string     `json:"origin_airport,omitempty"`
	DestinationAirport string     `json:"destination_airport,omitempty"`
	EstimatedArrival   *time.Time `json:"estimated_arrival,omitempty"`
	DepartureTime      *time.Time `json:"departure_time,omitempty"`
}

// AircraftRecord is one row of the fusion table
type AircraftRecord struct {
	Hex        string            `json:"hex"`
	State      AircraftState     `json:"state"`
	Enrichment *FlightEnrichment `json:"enrichment,omitempty"`
}

// categoryNames maps ADS-B emitter category codes to display names
var categoryNames = map[int]string{
	0:  "No category",
	1:  "No ADS-B emitter",
	2:  "Light aircraft",
	3:  "Small aircraft",
	4:  "Large aircraft",
	5:  "High vortex aircraft",
	6:  "Heavy aircraft",
	7:  "High performance aircraft",
	8:  "Rotorcraft",
	9:  "Glider",
	10: "Lighter than air",
	11: "Parachutist",
	12: "Ultralight",
	13: "Reserved",
	14: "Unmanned vehicle",
	15: "Space vehicle",
	16: "Surface vehicle",
	17: "Point obstacle",
	18: "Cluster obstacle",
	19: "Line obstacle",
	20: "Reserved",
}

// CategoryName returns a human-readable name for the emitter category code
func (s *AircraftState) CategoryName() string {
	if name, ok := categoryNames[s.Category]; ok {
		return name
	}
	return "Unknown"
}

// clone returns a deep copy of the state (pointers re-allocated)
func (s *AircraftState) clone() AircraftState {
	c := *s
	c.Lat = copyFloat(s.Lat)
	c.Lon = copyFloat(s.Lon)
	c.AltBaro = copyFloat(s.AltBaro)
	c.AltGeom = copyFloat(s.AltGeom)
	c.Velocity = copyFloat(s.Velocity)
	c.Track = copyFloat(s.Track)
	c.VerticalRate = copyFloat(s.VerticalRate)
	return c
}

// clone returns a deep copy of the record
func (r *AircraftRecord) clone() AircraftRecord {
	c := AircraftRecord{Hex: r.Hex, State: r.State.clone()}
	if r.Enrichment != nil {
		e := *r.Enrichment
		if r.Enrichment.EstimatedArrival != nil {
			t := *r.Enrichment.EstimatedArrival
			e.EstimatedArrival = &t
		}
		if r.Enrichment.DepartureTime != nil {
			t := *r.Enrichment.DepartureTime
			e.DepartureTime = &t
		}
		c.Enrichment = &e
	}
	return c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
