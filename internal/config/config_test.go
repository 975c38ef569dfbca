package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GNASTY_SINKS", "GNASTY_SINK_SQLITE_PATH", "GNASTY_SINK_BATCH_SIZE", "GNASTY_SINK_FLUSH_MAX_MS",
		"GNASTY_SINK_MEMORY_RUNS", "GNASTY_RULES_FILE", "GNASTY_EMOTES_FILE", "GNASTY_RULES_WATCH",
		"GNASTY_OBS_ADDR", "GNASTY_OBS_PASSWORD", "GNASTY_OBS_REQUEST_TIMEOUT_MS",
		"GNASTY_TWITCH_ENABLED", "GNASTY_TWITCH_CHANNELS", "GNASTY_TWITCH_NICK", "GNASTY_TWITCH_TOKEN",
		"GNASTY_TWITCH_TOKEN_FILE", "TWITCH_CHANNEL", "TWITCH_NICK", "TWITCH_TOKEN", "TWITCH_TOKEN_FILE", "TWITCH_TLS",
		"GNASTY_HTTP_ADDR", "GNASTY_HTTP_CORS_ORIGINS", "GNASTY_HTTP_RATE_RPS", "GNASTY_HTTP_RATE_BURST", "GNASTY_HTTP_ACCESS_LOG",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if !cfg.HasSink("sqlite") {
		t.Fatalf("expected sqlite sink by default, got %v", cfg.Sinks)
	}
	if cfg.Sink.SQLite.Path != "triggers.db" {
		t.Fatalf("unexpected sqlite path: %q", cfg.Sink.SQLite.Path)
	}
	if cfg.Batch() != 1 {
		t.Fatalf("expected default batch size 1, got %d", cfg.Batch())
	}
	if cfg.FlushInterval() != 0 {
		t.Fatalf("expected zero flush interval, got %s", cfg.FlushInterval())
	}
	if cfg.Rules.File != "triggers.yaml" || !cfg.Rules.Watch {
		t.Fatalf("unexpected rules defaults: %+v", cfg.Rules)
	}
	if cfg.OBS.Addr != "ws://127.0.0.1:4455" {
		t.Fatalf("unexpected obs addr: %q", cfg.OBS.Addr)
	}
	if cfg.OBSRequestTimeout() != 5*time.Second {
		t.Fatalf("unexpected obs timeout: %s", cfg.OBSRequestTimeout())
	}
	if cfg.Twitch.Enabled || !cfg.Twitch.TLS {
		t.Fatalf("unexpected twitch defaults: %+v", cfg.Twitch)
	}
	if cfg.HTTP.RateRPS != 20 || cfg.HTTP.RateBurst != 40 || !cfg.HTTP.AccessLog {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GNASTY_SINKS", "sqlite")
	t.Setenv("GNASTY_SINK_SQLITE_PATH", "/data/runs.db")
	t.Setenv("GNASTY_SINK_BATCH_SIZE", "25")
	t.Setenv("GNASTY_SINK_FLUSH_MAX_MS", "250")
	t.Setenv("GNASTY_RULES_FILE", "/etc/triggers.yaml")
	t.Setenv("GNASTY_EMOTES_FILE", "/etc/emotes.yaml")
	t.Setenv("GNASTY_RULES_WATCH", "false")
	t.Setenv("GNASTY_OBS_ADDR", "ws://obs.lan:4455")
	t.Setenv("GNASTY_OBS_PASSWORD", "hunter2")
	t.Setenv("GNASTY_OBS_REQUEST_TIMEOUT_MS", "1500")
	t.Setenv("GNASTY_TWITCH_CHANNELS", "elora, gnasty")
	t.Setenv("GNASTY_TWITCH_NICK", "elora_bot")
	t.Setenv("GNASTY_TWITCH_TOKEN", "oauth:abc")
	t.Setenv("GNASTY_TWITCH_TLS", "false")
	t.Setenv("GNASTY_HTTP_ADDR", ":8765")
	t.Setenv("GNASTY_HTTP_CORS_ORIGINS", "https://a.test,https://b.test")

	cfg := Load()
	if cfg.Sink.SQLite.Path != "/data/runs.db" {
		t.Fatalf("unexpected sqlite path: %q", cfg.Sink.SQLite.Path)
	}
	if cfg.Batch() != 25 {
		t.Fatalf("batch size mismatch: %d", cfg.Batch())
	}
	if cfg.FlushInterval() != 250*time.Millisecond {
		t.Fatalf("flush interval mismatch: %s", cfg.FlushInterval())
	}
	if cfg.Rules.File != "/etc/triggers.yaml" || cfg.Rules.EmotesFile != "/etc/emotes.yaml" || cfg.Rules.Watch {
		t.Fatalf("unexpected rules config: %+v", cfg.Rules)
	}
	if cfg.OBS.Addr != "ws://obs.lan:4455" || cfg.OBS.Password != "hunter2" {
		t.Fatalf("unexpected obs config: %+v", cfg.OBS)
	}
	if cfg.OBSRequestTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected obs timeout: %s", cfg.OBSRequestTimeout())
	}
	if !cfg.Twitch.Enabled {
		t.Fatalf("expected twitch enabled")
	}
	if len(cfg.Twitch.Channels) != 2 {
		t.Fatalf("expected two twitch channels, got %v", cfg.Twitch.Channels)
	}
	if cfg.Twitch.TLS {
		t.Fatalf("expected TLS disabled from env override")
	}
	if cfg.HTTP.Addr != ":8765" || len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
}

func TestLegacyTwitchEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CHANNEL", "legacy")
	t.Setenv("TWITCH_TOKEN", "oauth:old")
	t.Setenv("TWITCH_TLS", "false")

	cfg := Load()
	if len(cfg.Twitch.Channels) != 1 || cfg.Twitch.Channels[0] != "legacy" || cfg.Twitch.LegacyChannelEnv != "TWITCH_CHANNEL" {
		t.Fatalf("expected legacy channel, got %+v", cfg.Twitch)
	}
	if cfg.Twitch.Token != "oauth:old" || cfg.Twitch.LegacyTokenEnv != "TWITCH_TOKEN" {
		t.Fatalf("expected legacy token, got %+v", cfg.Twitch)
	}
	if cfg.Twitch.TLS {
		t.Fatalf("expected legacy TLS override to apply")
	}
}

func TestRedactedSnapshot(t *testing.T) {
	cfg := Config{
		Sinks: []string{"sqlite"},
		Sink:  SinkConfig{SQLite: SQLiteConfig{Path: "/data/runs.db"}, BatchSize: 10, FlushMaxMS: 500},
		OBS:   OBSConfig{Addr: "ws://obs:4455", Password: "hunter2"},
		Twitch: TwitchConfig{
			Enabled:  true,
			Channels: []string{"elora"},
			Nick:     "elora_bot",
			Token:    "oauth:secret",
		},
	}

	summary := cfg.Summary()
	if summary.Twitch.Token != "***REDACTED*** (len=12)" {
		t.Fatalf("expected redacted token, got %q", summary.Twitch.Token)
	}
	if summary.OBS.Password != "***REDACTED*** (len=7)" {
		t.Fatalf("expected redacted obs password, got %q", summary.OBS.Password)
	}

	redacted := cfg.Redacted()
	obsRaw := redacted["obs"].(map[string]any)
	if obsRaw["password"].(string) != "***REDACTED*** (len=7)" {
		t.Fatalf("unexpected redacted password: %v", obsRaw["password"])
	}
	if redacted["sink"].(map[string]any)["sqlite_path"].(string) != "/data/runs.db" {
		t.Fatalf("expected sqlite path preserved in redacted snapshot")
	}

	if strings.Contains(string(cfg.SummaryJSON()), "hunter2") || strings.Contains(string(cfg.RedactedJSON()), "hunter2") {
		t.Fatalf("secret leaked into json output")
	}
	var decoded map[string]any
	if err := json.Unmarshal(cfg.SummaryJSON(), &decoded); err != nil {
		t.Fatalf("summary json: %v", err)
	}
	if _, ok := decoded["config_summary"]; !ok {
		t.Fatalf("expected config_summary wrapper, got %v", decoded)
	}
}
