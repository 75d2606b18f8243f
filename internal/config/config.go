package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	Station    StationConfig    `toml:"station"`    // Home position settings
	ADSB       ADSBConfig       `toml:"adsb"`       // Remote feed (OpenSky-style) polling settings
	SBS        SBSConfig        `toml:"sbs"`        // Local feed (BaseStation port 30003) settings
	TypeDB     TypeDBConfig     `toml:"typedb"`     // Aircraft type database service settings
	Enrichment EnrichmentConfig `toml:"enrichment"` // Flight plan enrichment (AeroAPI-style) settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the API server
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, needed for streaming)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// StationConfig contains the home position the system tracks aircraft around
type StationConfig struct {
	Latitude  float64 `toml:"latitude"`  // Latitude of the home position in decimal degrees
	Longitude float64 `toml:"longitude"` // Longitude of the home position in decimal degrees
}

// ADSBConfig contains remote feed polling configuration
type ADSBConfig struct {
	SourceURL         string  `toml:"source_url"`             // Base URL of the states API (e.g., https://opensky-network.org/api)
	RadiusKM          float64 `toml:"radius_km"`              // Search radius in kilometers around the home position
	FetchIntervalSecs int     `toml:"fetch_interval_seconds"` // How often to poll the remote feed (in seconds)
	FetchBackoffSecs  int     `toml:"fetch_backoff_seconds"`  // How long to wait after a failed poll before retrying
	TimeoutSecs       int     `toml:"timeout_seconds"`        // HTTP timeout for remote feed requests
	ExpirySecs        int     `toml:"expiry_seconds"`         // Seconds without contact before an aircraft is dropped from the table
}

// SBSConfig contains local feed ingestor configuration.
// The local feed is a dump1090-style BaseStation CSV stream over TCP.
type SBSConfig struct {
	Enabled               bool    `toml:"enabled"`                 // Enable the local feed ingestor
	Host                  string  `toml:"host"`                    // Host of the BaseStation output (default: localhost)
	Port                  int     `toml:"port"`                    // Port of the BaseStation output (default: 30003)
	ReadTimeoutSecs       int     `toml:"read_timeout_seconds"`    // Socket read timeout (keeps expiry scanning alive on idle links)
	ReconnectIntervalSecs int     `toml:"reconnect_interval_secs"` // Seconds to wait before reconnecting after a connection failure
	ExpirySecs            int     `toml:"expiry_seconds"`          // Seconds without a message before the ingestor forgets an aircraft
	CallbackIntervalSecs  float64 `toml:"callback_interval_secs"`  // How often tracked states are pushed to the fusion store
}

// TypeDBConfig contains aircraft type database service configuration
type TypeDBConfig struct {
	Enabled     bool   `toml:"enabled"`         // Enable aircraft type lookups
	BaseURL     string `toml:"base_url"`        // Base URL of the type database service (shards served at /db/{prefix}.json)
	TimeoutSecs int    `toml:"timeout_seconds"` // HTTP timeout for shard fetches
}

// EnrichmentConfig contains flight plan enrichment configuration
type EnrichmentConfig struct {
	SourceURL            string `toml:"source_url"`              // Base URL of the flights-by-callsign API
	APIKey               string `toml:"api_key"`                 // API key sent in the x-apikey header (empty disables enrichment)
	MaxRequestsPerMinute int    `toml:"max_requests_per_minute"` // Sliding-window cap on external lookups
	TimeoutSecs          int    `toml:"timeout_seconds"`         // HTTP timeout for enrichment requests
	QuietStart           int    `toml:"quiet_start"`             // Local hour at which network calls are suppressed (-1 disables)
	QuietEnd             int    `toml:"quiet_end"`               // Local hour at which network calls resume (-1 disables)
	Timezone             string `toml:"timezone"`                // Named timezone for quiet hours (e.g., "America/Toronto")
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{}
	if preferredPath != "" {
		searchPaths = append(searchPaths, preferredPath)
	}
	searchPaths = append(searchPaths,
		filepath.Join("configs", "config.toml"),
		"config.toml",
	)

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Default returns a configuration populated with default values.
// Values present in the config file override these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			Host:             "127.0.0.1",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 0,
			IdleTimeoutSecs:  60,
		},
		ADSB: ADSBConfig{
			SourceURL:         "https://opensky-network.org/api",
			RadiusKM:          50,
			FetchIntervalSecs: 30,
			FetchBackoffSecs:  10,
			TimeoutSecs:       10,
			ExpirySecs:        900,
		},
		SBS: SBSConfig{
			Enabled:               false,
			Host:                  "localhost",
			Port:                  30003,
			ReadTimeoutSecs:       5,
			ReconnectIntervalSecs: 30,
			ExpirySecs:            900,
			CallbackIntervalSecs:  1.0,
		},
		TypeDB: TypeDBConfig{
			Enabled:     false,
			TimeoutSecs: 2,
		},
		Enrichment: EnrichmentConfig{
			SourceURL:            "https://aeroapi.flightaware.com/aeroapi",
			MaxRequestsPerMinute: 10,
			TimeoutSecs:          10,
			QuietStart:           -1,
			QuietEnd:             -1,
			Timezone:             "Local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Station.Latitude < -90 || c.Station.Latitude > 90 {
		return fmt.Errorf("invalid station latitude: %f", c.Station.Latitude)
	}
	if c.Station.Longitude < -180 || c.Station.Longitude > 180 {
		return fmt.Errorf("invalid station longitude: %f", c.Station.Longitude)
	}
	if c.ADSB.RadiusKM <= 0 {
		return fmt.Errorf("adsb radius_km must be positive")
	}
	if c.ADSB.FetchIntervalSecs <= 0 {
		return fmt.Errorf("adsb fetch_interval_seconds must be positive")
	}
	if c.SBS.Enabled && (c.SBS.Port <= 0 || c.SBS.Port > 65535) {
		return fmt.Errorf("invalid sbs port: %d", c.SBS.Port)
	}
	if c.TypeDB.Enabled && c.TypeDB.BaseURL == "" {
		return fmt.Errorf("typedb base_url is required when typedb is enabled")
	}
	if c.Enrichment.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("enrichment max_requests_per_minute must be positive")
	}
	quietConfigured := c.Enrichment.QuietStart >= 0 || c.Enrichment.QuietEnd >= 0
	if quietConfigured {
		if c.Enrichment.QuietStart < 0 || c.Enrichment.QuietStart > 23 ||
			c.Enrichment.QuietEnd < 0 || c.Enrichment.QuietEnd > 23 {
			return fmt.Errorf("quiet hours must both be in range 0-23 (got start=%d end=%d)",
				c.Enrichment.QuietStart, c.Enrichment.QuietEnd)
		}
		if _, err := time.LoadLocation(c.Enrichment.Timezone); err != nil {
			return fmt.Errorf("invalid enrichment timezone %q: %w", c.Enrichment.Timezone, err)
		}
	}
	return nil
}
