package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090

[station]
latitude = 43.6777
longitude = -79.6248

[sbs]
enabled = true
port = 30003
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.SBS.Enabled {
		t.Error("sbs.enabled not loaded")
	}
	// Untouched sections keep their defaults
	if cfg.ADSB.FetchIntervalSecs != 30 {
		t.Errorf("fetch interval = %d, want default 30", cfg.ADSB.FetchIntervalSecs)
	}
	if cfg.Enrichment.QuietStart != -1 {
		t.Errorf("quiet_start = %d, want default -1", cfg.Enrichment.QuietStart)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	cfg.Station.Latitude = 43.7
	cfg.Station.Longitude = -79.6
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad latitude", func(c *Config) { c.Station.Latitude = 91 }},
		{"bad radius", func(c *Config) { c.ADSB.RadiusKM = 0 }},
		{"bad quiet start", func(c *Config) { c.Enrichment.QuietStart = 25; c.Enrichment.QuietEnd = 6 }},
		{"half-open quiet window", func(c *Config) { c.Enrichment.QuietStart = 22 }},
		{"bad timezone", func(c *Config) {
			c.Enrichment.QuietStart = 22
			c.Enrichment.QuietEnd = 6
			c.Enrichment.Timezone = "Not/AZone"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateQuietWraparound(t *testing.T) {
	cfg := Default()
	cfg.Enrichment.QuietStart = 22
	cfg.Enrichment.QuietEnd = 6
	cfg.Enrichment.Timezone = "UTC"
	if err := cfg.Validate(); err != nil {
		t.Errorf("wraparound quiet window must be valid: %v", err)
	}
}
