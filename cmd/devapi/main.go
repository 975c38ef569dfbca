package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/httpapi"
	"github.com/you/gnasty-triggers/internal/rules"
	"github.com/you/gnasty-triggers/internal/sink"
	"github.com/you/gnasty-triggers/internal/trigger"
)

// logSurface records every control call instead of driving OBS.
type logSurface struct {
	mu    sync.Mutex
	calls []surfaceCall
}

type surfaceCall struct {
	Op     string `json:"op"`
	Target string `json:"target"`
	Value  string `json:"value,omitempty"`
	Show   *bool  `json:"show,omitempty"`
}

func (s *logSurface) record(c surfaceCall) error {
	slog.Info("devapi: surface", "op", c.Op, "target", c.Target, "value", c.Value)
	s.mu.Lock()
	s.calls = append(s.calls, c)
	if len(s.calls) > 500 {
		s.calls = s.calls[len(s.calls)-500:]
	}
	s.mu.Unlock()
	return nil
}

func (s *logSurface) snapshot() []surfaceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]surfaceCall(nil), s.calls...)
}

func (s *logSurface) Connected() bool { return true }

func (s *logSurface) SetTextContent(_ context.Context, target, text string) error {
	return s.record(surfaceCall{Op: "text", Target: target, Value: text})
}

func (s *logSurface) SetBrowsableContentURL(_ context.Context, target, url string) error {
	return s.record(surfaceCall{Op: "url", Target: target, Value: url})
}

func (s *logSurface) SetMediaContent(_ context.Context, target, ref string) error {
	return s.record(surfaceCall{Op: "media", Target: target, Value: ref})
}

func (s *logSurface) SetFilterVisibility(_ context.Context, target, filter string, show bool) error {
	return s.record(surfaceCall{Op: "filter", Target: target, Value: filter, Show: &show})
}

func (s *logSurface) SetElementVisibility(_ context.Context, target string, show bool) error {
	return s.record(surfaceCall{Op: "visibility", Target: target, Show: &show})
}

func main() {
	var (
		addr      string
		rulesFile string
	)

	flag.StringVar(&addr, "addr", ":8765", "HTTP listen address")
	flag.StringVar(&rulesFile, "rules", "triggers.yaml", "Trigger rules YAML file")
	flag.Parse()

	store, err := rules.OpenFile(rulesFile)
	if err != nil {
		log.Fatalf("devapi: rules: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := store.Watch(ctx); err != nil {
		log.Printf("devapi: rules watch disabled: %v", err)
	}

	surface := &logSurface{}
	runs := sink.NewMemory(500)
	cooldowns := trigger.NewCooldowns()
	recorder := &struct{ sink.Writer }{Writer: runs}

	engine := trigger.New(trigger.Options{
		Rules:     store,
		Surface:   surface,
		Cooldowns: cooldowns,
		Recorder:  recorder,
	})

	api := httpapi.New(runs, httpapi.Options{
		Addr:           addr,
		Build:          httpapi.BuildInfo{Version: "devapi"},
		Trigger:        engine,
		Cooldowns:      cooldowns,
		Surface:        surface,
		Rules:          store,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		AccessLog:      true,
	})
	recorder.Writer = sink.WithAPI(runs, api)

	mux := api.Mux()
	mux.HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev core.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if ev.Kind == "" {
			http.Error(w, "type required", http.StatusBadRequest)
			return
		}
		engine.Submit(ev, r.URL.Query().Get("test") == "1")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "pending": engine.Pending()})
	})
	mux.HandleFunc("GET /calls", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(surface.snapshot())
	})

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("devapi: engine: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = api.Shutdown(context.Background())
	}()

	log.Printf("devapi listening on %s (rules=%s)", addr, rulesFile)
	if err := api.Start(); err != nil {
		log.Fatal(err)
	}
}
