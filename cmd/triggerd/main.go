package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/you/gnasty-triggers/internal/config"
	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/emotes"
	httpadmin "github.com/you/gnasty-triggers/internal/http"
	"github.com/you/gnasty-triggers/internal/httpapi"
	"github.com/you/gnasty-triggers/internal/obsws"
	"github.com/you/gnasty-triggers/internal/rules"
	"github.com/you/gnasty-triggers/internal/runtrace"
	"github.com/you/gnasty-triggers/internal/sink"
	"github.com/you/gnasty-triggers/internal/template"
	"github.com/you/gnasty-triggers/internal/trigger"
	"github.com/you/gnasty-triggers/internal/twitchirc"
	"github.com/you/gnasty-triggers/internal/version"
)

type runStore interface {
	sink.Writer
	httpapi.Store
}

// recorderChain lets the engine be built before the API that wraps its sink.
type recorderChain struct {
	mu sync.RWMutex
	w  sink.Writer
}

func (r *recorderChain) set(w sink.Writer) {
	r.mu.Lock()
	r.w = w
	r.mu.Unlock()
}

func (r *recorderChain) Write(run core.Run, trace *runtrace.RunTrace) error {
	r.mu.RLock()
	w := r.w
	r.mu.RUnlock()
	return w.Write(run, trace)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		rulesFile       string
		emotesFile      string
		dbPath          string
		memoryRuns      int
		obsAddr         string
		obsPassword     string
		twChannel       string
		twNick          string
		twToken         string
		twTokenFile     string
		twTLS           bool
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpAccessLog   bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&rulesFile, "rules", "triggers.yaml", "Path to the trigger rules YAML file")
	flag.StringVar(&emotesFile, "emotes", "", "Path to a YAML file of third-party emote providers")
	flag.StringVar(&dbPath, "sqlite", "triggers.db", "Path to SQLite run log")
	flag.IntVar(&memoryRuns, "memory-runs", 1000, "Keep the run log in memory with this capacity instead of SQLite")
	flag.StringVar(&obsAddr, "obs-addr", "ws://127.0.0.1:4455", "OBS websocket address")
	flag.StringVar(&obsPassword, "obs-password", "", "OBS websocket password")
	flag.StringVar(&twChannel, "twitch-channel", "", "Comma-separated Twitch channels to join (without #)")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch nickname to login as")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch OAuth token (format: oauth:xxxxx)")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch OAuth token")
	flag.BoolVar(&twTLS, "twitch-tls", true, "Use TLS (port 6697) for Twitch IRC connection")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address (e.g., :8765)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"triggerd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["rules"] {
		cfg.Rules.File = strings.TrimSpace(rulesFile)
	}
	if overrides["emotes"] {
		cfg.Rules.EmotesFile = strings.TrimSpace(emotesFile)
	}
	if overrides["sqlite"] {
		cfg.Sink.SQLite.Path = strings.TrimSpace(dbPath)
		cfg.Sinks = []string{"sqlite"}
	}
	if overrides["memory-runs"] {
		cfg.Sink.MemoryRuns = memoryRuns
		cfg.Sinks = []string{"memory"}
	}
	if overrides["obs-addr"] {
		cfg.OBS.Addr = strings.TrimSpace(obsAddr)
	}
	if overrides["obs-password"] {
		cfg.OBS.Password = obsPassword
	}
	if overrides["twitch-channel"] {
		cfg.Twitch.Channels = nil
		for _, ch := range strings.Split(twChannel, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				cfg.Twitch.Channels = append(cfg.Twitch.Channels, ch)
			}
		}
		cfg.Twitch.Enabled = len(cfg.Twitch.Channels) > 0
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(twNick)
	}
	if overrides["twitch-token"] {
		cfg.Twitch.Token = strings.TrimSpace(twToken)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-tls"] {
		cfg.Twitch.TLS = twTLS
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}
	if cfg.Twitch.LegacyChannelEnv != "" || cfg.Twitch.LegacyTokenEnv != "" {
		log.Printf("triggerd: twitch: legacy env in use (%s %s); prefer GNASTY_TWITCH_*",
			cfg.Twitch.LegacyChannelEnv, cfg.Twitch.LegacyTokenEnv)
	}

	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("triggerd: received %s, shutting down", sig)
		cancel()
	}()

	ruleStore, err := rules.OpenFile(cfg.Rules.File)
	if err != nil {
		log.Fatalf("triggerd: rules: %v", err)
	}
	ruleStore.SetReloadHook(func(t rules.Table) {
		log.Printf("triggerd: rules reloaded keys=%d", len(t))
	})
	if cfg.Rules.Watch {
		if err := ruleStore.Watch(ctx); err != nil {
			log.Printf("triggerd: rules watch disabled: %v", err)
		}
	}

	var providers emotes.Providers
	if cfg.Rules.EmotesFile != "" {
		providers, err = emotes.LoadFile(cfg.Rules.EmotesFile)
		if err != nil {
			log.Fatalf("triggerd: emotes: %v", err)
		}
		log.Printf("triggerd: emotes: providers=%d emotes=%d", len(providers), providers.Count())
	}

	obs := obsws.New(obsws.Config{
		Addr:           cfg.OBS.Addr,
		Password:       cfg.OBS.Password,
		RequestTimeout: cfg.OBSRequestTimeout(),
	})
	go func() {
		if err := obs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("triggerd: obs: %v", err)
		}
	}()
	defer func() {
		if err := obs.Close(); err != nil {
			log.Printf("triggerd: closing obs: %v", err)
		}
	}()

	var store runStore
	if cfg.HasSink("sqlite") {
		db, err := sink.OpenSQLite(cfg.Sink.SQLite.Path)
		if err != nil {
			log.Fatalf("triggerd: open sqlite: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("triggerd: ping sqlite: %v", err)
		}
		if err := migrateSQLite(ctx, db.RawDB()); err != nil {
			log.Fatalf("triggerd: sqlite migrate: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("triggerd: closing sink: %v", err)
			}
		}()
		store = db
	} else {
		log.Printf("triggerd: sqlite sink disabled (configured sinks=%v); keeping %d runs in memory", cfg.Sinks, cfg.Sink.MemoryRuns)
		store = sink.NewMemory(cfg.Sink.MemoryRuns)
	}

	triggerMetrics := trigger.NewMetrics()
	ircMetrics := twitchirc.NewMetrics()
	cooldowns := trigger.NewCooldowns()
	recorder := &recorderChain{w: store}

	engine := trigger.New(trigger.Options{
		Rules:     ruleStore,
		Surface:   obs,
		Resolver:  template.NewResolver(template.WithCheermotes(template.DefaultCheermotes())),
		Cooldowns: cooldowns,
		Recorder:  recorder,
		Metrics:   triggerMetrics,
		Logger:    slog.Default(),
	})

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	var (
		api      *httpapi.Server
		writer   sink.Writer = store
		buffered *sink.BufferedWriter
	)
	if cfg.HTTP.Addr != "" {
		apiMetrics := httpapi.NewMetrics()
		collectors := append(triggerMetrics.Collectors(), ircMetrics.Collectors()...)
		if err := apiMetrics.Register(collectors...); err != nil {
			log.Printf("triggerd: register metrics: %v", err)
		}
		api = httpapi.New(store, httpapi.Options{
			Addr:           cfg.HTTP.Addr,
			Build:          build,
			Trigger:        engine,
			Cooldowns:      cooldowns,
			Surface:        obs,
			Rules:          ruleStore,
			Metrics:        apiMetrics,
			RateLimitRPS:   cfg.HTTP.RateRPS,
			RateLimitBurst: cfg.HTTP.RateBurst,
			CORSOrigins:    cfg.HTTP.CORSOrigins,
			AccessLog:      cfg.HTTP.AccessLog,
		})
		httpadmin.New(ruleStore, cooldowns).Register(api.Mux())
		go func() {
			if err := api.Start(); err != nil {
				log.Fatalf("triggerd: http api: %v", err)
			}
		}()
		writer = sink.WithAPI(store, api)
		log.Printf("triggerd: http api ready on %s", cfg.HTTP.Addr)
	}

	if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
		buffered = sink.NewBufferedWriter(writer, sink.BufferedOptions{
			BatchSize:     cfg.Batch(),
			FlushInterval: cfg.FlushInterval(),
		})
		writer = buffered
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("triggerd: flush buffered sink: %v", err)
			}
		}()
	}
	recorder.set(writer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("triggerd: engine: %v", err)
		}
	}()

	if cfg.Twitch.Enabled && len(cfg.Twitch.Channels) > 0 {
		if strings.TrimSpace(cfg.Twitch.Nick) == "" {
			log.Fatal("triggerd: twitch-nick is required when twitch channels are configured")
		}

		ircCfg := twitchirc.Config{
			Channels: cfg.Twitch.Channels,
			Nick:     cfg.Twitch.Nick,
			Token:    twitchirc.NormalizeToken(cfg.Twitch.Token),
			UseTLS:   cfg.Twitch.TLS,
			Emotes:   providers,
			Metrics:  ircMetrics,
		}
		if cfg.Twitch.TokenFile != "" {
			loader := twitchirc.NewFileTokenLoader(cfg.Twitch.TokenFile)
			if _, _, err := loader.Load(); err != nil {
				if !errors.Is(err, twitchirc.ErrEmptyToken) {
					log.Printf("triggerd: twitch token file: %v", err)
				}
				loader.SetCached(ircCfg.Token)
			}
			if err := loader.Watch(ctx); err != nil {
				log.Printf("triggerd: twitch token watch disabled: %v", err)
			}
			ircCfg.TokenProvider = loader.Current
			ircCfg.RefreshNow = func(context.Context) (string, error) {
				return loader.Refresh()
			}
		}

		client := twitchirc.New(ircCfg, func(ev core.Event) {
			engine.Submit(ev, false)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("triggerd: twitch: %v", err)
			}
		}()
	} else {
		log.Printf("triggerd: twitch source disabled; events arrive via the http api only")
	}

	<-ctx.Done()

	if api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("triggerd: http shutdown: %v", err)
		}
		cancelShutdown()
	}
	wg.Wait()
	log.Printf("triggerd: stopped")
}
