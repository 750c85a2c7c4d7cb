package entityd

import (
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("ENTITYD_PORT", "")

	fs := flag.NewFlagSet("entityd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv("ENTITYD_PORT", "9100")

	fs := flag.NewFlagSet("entityd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Port)
	}
}

func TestParseConfigFlagWinsOverEnv(t *testing.T) {
	t.Setenv("ENTITYD_PORT", "9100")

	fs := flag.NewFlagSet("entityd", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9200"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9200 {
		t.Fatalf("port = %d, want 9200", cfg.Port)
	}
}
