package resolver

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("resolver", flag.ContinueOnError)
	t.Setenv("CROWNFALL_RESOLVER_PORT", "9091")
	t.Setenv("CROWNFALL_RESOLVER_DB_PATH", "tmp/test.db")

	cfg, err := ParseConfig(fs, []string{"-max-progress", "10", "-claim-lease", "30s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9091 {
		t.Fatalf("port = %d, want 9091", cfg.Port)
	}
	if cfg.DBPath != "tmp/test.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "tmp/test.db")
	}
	if cfg.MaxProgress != 10 {
		t.Fatalf("max progress = %d, want 10", cfg.MaxProgress)
	}
	if cfg.ClaimLease != 30*time.Second {
		t.Fatalf("claim lease = %v, want 30s", cfg.ClaimLease)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("resolver", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Driver != "sqlite" {
		t.Fatalf("driver = %q, want sqlite", cfg.Driver)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("poll interval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.MaxProgress != 5 {
		t.Fatalf("max progress = %d, want 5", cfg.MaxProgress)
	}
	if cfg.ImmediateActions {
		t.Fatal("immediate actions on by default")
	}
	if cfg.ResearchInterval != time.Hour {
		t.Fatalf("research interval = %v, want 1h", cfg.ResearchInterval)
	}
}
