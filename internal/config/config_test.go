package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worldd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
[channel]
count = 2
tick_interval = "250ms"
drop_ttl = "90s"

[central]
ticket_ttl = "1m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Channel.TickInterval.Std(); got != 250*time.Millisecond {
		t.Errorf("tick_interval = %s, want 250ms", got)
	}
	if got := cfg.Channel.DropTTL.Std(); got != 90*time.Second {
		t.Errorf("drop_ttl = %s, want 90s", got)
	}
	if got := cfg.Central.TicketTTL.Std(); got != time.Minute {
		t.Errorf("ticket_ttl = %s, want 1m", got)
	}
	// untouched sections keep their defaults
	if cfg.Network.OutQueueSize != 256 {
		t.Errorf("out_queue_size = %d, want default 256", cfg.Network.OutQueueSize)
	}
	if cfg.Data.TablesDir != "data/tables" {
		t.Errorf("tables_dir = %q, want default", cfg.Data.TablesDir)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[channel]
tick_interval = "fast"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed duration")
	}
}

func TestLoadRejectsZeroChannels(t *testing.T) {
	path := writeConfig(t, `
[channel]
count = 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for channel count")
	}
}
