package config

import "testing"

type sampleConfig struct {
	Addr     string `env:"CROWNFALL_TEST_ADDR" envDefault:"127.0.0.1:9090"`
	Interval string `env:"CROWNFALL_TEST_INTERVAL" envDefault:"5s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg sampleConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Fatalf("addr = %q, want default", cfg.Addr)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("CROWNFALL_TEST_ADDR", "env:7070")

	var cfg sampleConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "env:7070" {
		t.Fatalf("addr = %q, want env override", cfg.Addr)
	}
	if cfg.Interval != "5s" {
		t.Fatalf("interval = %q, want default", cfg.Interval)
	}
}
