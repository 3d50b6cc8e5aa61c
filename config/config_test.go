package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"bad base image", func(c *Config) { c.BaseImage = "not a ref!!" }, false},
		{"inverted port range", func(c *Config) { c.PortRangeStart = 31000; c.PortRangeEnd = 30000 }, false},
		{"zero port start", func(c *Config) { c.PortRangeStart = 0 }, false},
		{"zero cap", func(c *Config) { c.MaxInstances = 0 }, false},
		{"bad memory", func(c *Config) { c.MemoryLimit = "lots" }, false},
		{"heartbeat interval above timeout", func(c *Config) {
			c.HeartbeatIntervalSeconds = 60
			c.HeartbeatTimeoutSeconds = 30
		}, false},
		{"single-port range", func(c *Config) { c.PortRangeStart = 30000; c.PortRangeEnd = 30000 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMemoryLimitBytes(t *testing.T) {
	c := DefaultConfig()
	c.MemoryLimit = "512m"
	b, err := c.MemoryLimitBytes()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b != 512<<20 {
		t.Fatalf("expected 512MiB in bytes, got %d", b)
	}
}

func TestPathHelpers(t *testing.T) {
	c := DefaultConfig()
	c.RootDir = "/data"
	c.RunDir = "/data/run"

	if got := c.BuildDir("abc123"); got != "/data/builds/abc123" {
		t.Fatalf("unexpected build dir %s", got)
	}
	if got := c.IndexFile(); got != "/data/run/db/instances.json" {
		t.Fatalf("unexpected index file %s", got)
	}
	if got := c.IndexLock(); got != "/data/run/db/instances.lock" {
		t.Fatalf("unexpected index lock %s", got)
	}
}
