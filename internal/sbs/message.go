package sbs

import (
	"strconv"
	"strings"
	"time"
)

// BaseStation CSV field indices. One line per message; fields beyond the
// hex ident are present but empty when the message type does not carry them.
const (
	fieldMessageType  = 0
	fieldHexIdent     = 4
	fieldLoggedDate   = 8
	fieldLoggedTime   = 9
	fieldCallsign     = 10
	fieldAltitude     = 11 // feet
	fieldGroundSpeed  = 12 // knots
	fieldTrack        = 13 // degrees
	fieldLat          = 14
	fieldLon          = 15
	fieldVerticalRate = 16 // feet/minute
	fieldSquawk       = 17
	fieldSPI          = 20
	fieldOnGround     = 21

	minFields = 22
)

// Unit conversion divisors to the normalized metric state
const (
	feetPerMeter     = 3.28084
	knotsPerMPS      = 1.94384
	feetPerMinPerMPS = 196.85
)

// message is one parsed BaseStation line. Pointer fields are nil when the
// line carried no value for them.
type message struct {
	hex          string
	logged       int64 // Unix seconds; falls back to wall clock on parse failure
	callsign     string
	altBaro      *float64 // meters
	velocity     *float64 // m/s
	track        *float64 // degrees
	lat          *float64
	lon          *float64
	verticalRate *float64 // m/s
	squawk       string
	spi          bool
	onGround     bool
}

// parseMessage parses one CSV line. Returns false for rows that must be
// dropped: fewer than 22 fields or an empty hex ident.
func parseMessage(line string, now time.Time) (message, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < minFields {
		return message{}, false
	}

	hex := strings.ToLower(strings.TrimSpace(fields[fieldHexIdent]))
	if hex == "" {
		return message{}, false
	}

	msg := message{hex: hex}

	logged, ok := parseTimestamp(
		strings.TrimSpace(fields[fieldLoggedDate]),
		strings.TrimSpace(fields[fieldLoggedTime]),
	)
	if !ok {
		// Never leave a record stuck at a zero timestamp
		logged = now.Unix()
	}
	msg.logged = logged

	msg.callsign = strings.TrimSpace(fields[fieldCallsign])
	msg.squawk = strings.TrimSpace(fields[fieldSquawk])

	if v, ok := parseFloat(fields[fieldAltitude]); ok {
		alt := v / feetPerMeter
		msg.altBaro = &alt
	}
	if v, ok := parseFloat(fields[fieldGroundSpeed]); ok {
		gs := v / knotsPerMPS
		msg.velocity = &gs
	}
	if v, ok := parseFloat(fields[fieldTrack]); ok {
		trk := v
		msg.track = &trk
	}
	if v, ok := parseFloat(fields[fieldLat]); ok {
		lat := v
		msg.lat = &lat
	}
	if v, ok := parseFloat(fields[fieldLon]); ok {
		lon := v
		msg.lon = &lon
	}
	if v, ok := parseFloat(fields[fieldVerticalRate]); ok {
		vr := v / feetPerMinPerMPS
		msg.verticalRate = &vr
	}

	msg.spi = strings.TrimSpace(fields[fieldSPI]) == "1"
	msg.onGround = strings.TrimSpace(fields[fieldOnGround]) == "1"

	return msg, true
}

// parseFloat parses a numeric field; empty or unparseable values are absent,
// never zero
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseTimestamp parses the logged date and time pair (YYYY/MM/DD and
// HH:MM:SS with optional milliseconds) into Unix seconds. BaseStation
// timestamps are in the receiver's local time.
func parseTimestamp(date, timeStr string) (int64, bool) {
	if date == "" || timeStr == "" {
		return 0, false
	}

	combined := date + " " + timeStr
	for _, layout := range []string{
		"2006/01/02 15:04:05.000",
		"2006/01/02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, combined, time.Local); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}
