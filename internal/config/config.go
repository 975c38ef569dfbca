package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Sinks  []string
	Sink   SinkConfig
	Rules  RulesConfig
	OBS    OBSConfig
	Twitch TwitchConfig
	HTTP   HTTPConfig
}

type SinkConfig struct {
	SQLite     SQLiteConfig
	BatchSize  int
	FlushMaxMS int
	MemoryRuns int
}

type SQLiteConfig struct {
	Path string
}

type RulesConfig struct {
	File       string
	EmotesFile string
	Watch      bool
}

type OBSConfig struct {
	Addr             string
	Password         string
	RequestTimeoutMS int
}

type TwitchConfig struct {
	Enabled          bool
	Channels         []string
	Nick             string
	Token            string
	TokenFile        string
	TLS              bool
	LegacyChannelEnv string
	LegacyTokenEnv   string
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	AccessLog   bool
}

const (
	defaultSQLitePath    = "triggers.db"
	defaultRulesFile     = "triggers.yaml"
	defaultOBSAddr       = "ws://127.0.0.1:4455"
	defaultOBSTimeoutMS  = 5000
	defaultBatchSize     = 1
	defaultFlushMS       = 0
	defaultMemoryRuns    = 1000
	defaultHTTPRateRPS   = 20
	defaultHTTPRateBurst = 40
)

func Load() Config {
	cfg := Config{}

	raw := strings.TrimSpace(os.Getenv("GNASTY_SINKS"))
	if raw == "" {
		raw = "sqlite"
	}
	cfg.Sinks = splitList(raw)

	cfg.Sink.SQLite.Path = strings.TrimSpace(os.Getenv("GNASTY_SINK_SQLITE_PATH"))
	if cfg.Sink.SQLite.Path == "" {
		cfg.Sink.SQLite.Path = defaultSQLitePath
	}
	cfg.Sink.BatchSize = readInt("GNASTY_SINK_BATCH_SIZE", defaultBatchSize)
	cfg.Sink.FlushMaxMS = readInt("GNASTY_SINK_FLUSH_MAX_MS", defaultFlushMS)
	cfg.Sink.MemoryRuns = readInt("GNASTY_SINK_MEMORY_RUNS", defaultMemoryRuns)

	cfg.Rules.File = strings.TrimSpace(os.Getenv("GNASTY_RULES_FILE"))
	if cfg.Rules.File == "" {
		cfg.Rules.File = defaultRulesFile
	}
	cfg.Rules.EmotesFile = strings.TrimSpace(os.Getenv("GNASTY_EMOTES_FILE"))
	cfg.Rules.Watch = readBool("GNASTY_RULES_WATCH", true)

	cfg.OBS.Addr = strings.TrimSpace(os.Getenv("GNASTY_OBS_ADDR"))
	if cfg.OBS.Addr == "" {
		cfg.OBS.Addr = defaultOBSAddr
	}
	cfg.OBS.Password = os.Getenv("GNASTY_OBS_PASSWORD")
	cfg.OBS.RequestTimeoutMS = readInt("GNASTY_OBS_REQUEST_TIMEOUT_MS", defaultOBSTimeoutMS)

	cfg.Twitch.Enabled = readBool("GNASTY_TWITCH_ENABLED", false)
	channels := splitList(os.Getenv("GNASTY_TWITCH_CHANNELS"))
	if len(channels) == 0 {
		legacy := strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))
		if legacy != "" {
			cfg.Twitch.LegacyChannelEnv = "TWITCH_CHANNEL"
			channels = []string{legacy}
		}
	}
	cfg.Twitch.Channels = dedupe(channels)
	cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("GNASTY_TWITCH_NICK"))
	if cfg.Twitch.Nick == "" {
		cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("TWITCH_NICK"))
	}
	cfg.Twitch.Token = strings.TrimSpace(os.Getenv("GNASTY_TWITCH_TOKEN"))
	if cfg.Twitch.Token == "" {
		cfg.Twitch.Token = strings.TrimSpace(os.Getenv("TWITCH_TOKEN"))
		if cfg.Twitch.Token != "" {
			cfg.Twitch.LegacyTokenEnv = "TWITCH_TOKEN"
		}
	}
	cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("GNASTY_TWITCH_TOKEN_FILE"))
	if cfg.Twitch.TokenFile == "" {
		cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("TWITCH_TOKEN_FILE"))
	}
	cfg.Twitch.TLS = readBool("GNASTY_TWITCH_TLS", true)
	if !envExists("GNASTY_TWITCH_TLS") {
		cfg.Twitch.TLS = readBool("TWITCH_TLS", cfg.Twitch.TLS)
	}
	if !cfg.Twitch.Enabled {
		cfg.Twitch.Enabled = len(cfg.Twitch.Channels) > 0
	}

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("GNASTY_HTTP_ADDR"))
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("GNASTY_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readInt("GNASTY_HTTP_RATE_RPS", defaultHTTPRateRPS)
	cfg.HTTP.RateBurst = readInt("GNASTY_HTTP_RATE_BURST", defaultHTTPRateBurst)
	cfg.HTTP.AccessLog = readBool("GNASTY_HTTP_ACCESS_LOG", true)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envExists(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func (c Config) Summary() Summary {
	return Summary{
		Sinks:      append([]string(nil), c.Sinks...),
		SQLitePath: c.Sink.SQLite.Path,
		BatchSize:  c.Sink.BatchSize,
		FlushMaxMS: c.Sink.FlushMaxMS,
		RulesFile:  c.Rules.File,
		EmotesFile: c.Rules.EmotesFile,
		Watch:      c.Rules.Watch,
		OBS: OBSSummary{
			Addr:     c.OBS.Addr,
			Password: redactString(c.OBS.Password),
		},
		Twitch: TwitchSummary{
			Enabled:   c.Twitch.Enabled,
			Channels:  len(c.Twitch.Channels),
			Nick:      c.Twitch.Nick,
			Token:     redactString(c.Twitch.Token),
			TokenFile: c.Twitch.TokenFile,
		},
		HTTPAddr: c.HTTP.Addr,
	}
}

type Summary struct {
	Sinks      []string      `json:"sinks"`
	SQLitePath string        `json:"sqlite_path"`
	BatchSize  int           `json:"batch"`
	FlushMaxMS int           `json:"flush_ms"`
	RulesFile  string        `json:"rules_file"`
	EmotesFile string        `json:"emotes_file,omitempty"`
	Watch      bool          `json:"watch"`
	OBS        OBSSummary    `json:"obs"`
	Twitch     TwitchSummary `json:"twitch"`
	HTTPAddr   string        `json:"http_addr,omitempty"`
}

type OBSSummary struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
}

type TwitchSummary struct {
	Enabled   bool   `json:"enabled"`
	Channels  int    `json:"channels"`
	Nick      string `json:"nick,omitempty"`
	Token     string `json:"token,omitempty"`
	TokenFile string `json:"token_file,omitempty"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"sinks": append([]string(nil), c.Sinks...),
		"sink": map[string]any{
			"sqlite_path": c.Sink.SQLite.Path,
			"batch_size":  c.Sink.BatchSize,
			"flush_ms":    c.Sink.FlushMaxMS,
			"memory_runs": c.Sink.MemoryRuns,
		},
		"rules": map[string]any{
			"file":        c.Rules.File,
			"emotes_file": c.Rules.EmotesFile,
			"watch":       c.Rules.Watch,
		},
		"obs": map[string]any{
			"addr":               c.OBS.Addr,
			"password":           redactString(c.OBS.Password),
			"request_timeout_ms": c.OBS.RequestTimeoutMS,
		},
		"twitch": map[string]any{
			"enabled":    c.Twitch.Enabled,
			"channels":   append([]string(nil), c.Twitch.Channels...),
			"nick":       c.Twitch.Nick,
			"token":      redactString(c.Twitch.Token),
			"token_file": c.Twitch.TokenFile,
			"tls":        c.Twitch.TLS,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"access_log":   c.HTTP.AccessLog,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) HasSink(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.Sinks {
		if strings.ToLower(strings.TrimSpace(s)) == name {
			return true
		}
	}
	return false
}

func (c Config) FlushInterval() time.Duration {
	if c.Sink.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Sink.FlushMaxMS) * time.Millisecond
}

func (c Config) Batch() int {
	if c.Sink.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.Sink.BatchSize
}

func (c Config) OBSRequestTimeout() time.Duration {
	if c.OBS.RequestTimeoutMS <= 0 {
		return time.Duration(defaultOBSTimeoutMS) * time.Millisecond
	}
	return time.Duration(c.OBS.RequestTimeoutMS) * time.Millisecond
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
