package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/gnasty-triggers/internal/core"
	"github.com/you/gnasty-triggers/internal/template"
	"github.com/you/gnasty-triggers/internal/trigger"
)

type Store interface {
	CountRuns(ctx context.Context, filters Filters) (int64, error)
	ListRuns(ctx context.Context, filters Filters) ([]core.Run, error)
}

// Trigger accepts events for the engine's spool.
type Trigger interface {
	Submit(ev core.Event, testMode bool)
	Pending() int
}

type CooldownSource interface {
	Snapshot(now time.Time) []trigger.Expiry
}

// ConnState reports whether a downstream connection is up.
type ConnState interface {
	Connected() bool
}

type RuleCounter interface {
	Len() int
}

type Options struct {
	Addr  string
	Build BuildInfo

	Trigger   Trigger
	Cooldowns CooldownSource
	Surface   ConnState
	Rules     RuleCounter
	Metrics   *Metrics

	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string
	AccessLog      bool
}

type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options
	metrics    *Metrics
	cors       *corsPolicy

	limiter        *clientLimiter
	triggerLimiter *clientLimiter
	mux        *http.ServeMux

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	ch        chan core.Run
	filters   Filters
	transport string
}

const maxTriggerBody = 1 << 20

func New(store Store, opts Options) *Server {
	srv := &Server{
		store:   store,
		opts:    opts,
		metrics: opts.Metrics,
		cors:    newCORSPolicy(opts.CORSOrigins),
		clients: make(map[*streamClient]struct{}),

		limiter:        newClientLimiter(float64(opts.RateLimitRPS), opts.RateLimitBurst),
		triggerLimiter: newTriggerLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
	if srv.metrics == nil {
		srv.metrics = NewMetrics()
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.Handle("/api/info", srv.wrap("/api/info", srv.handleInfo))
	mux.Handle("/api/runs", srv.wrap("/api/runs", srv.handleRuns))
	mux.Handle("/api/runs/count", srv.wrap("/api/runs/count", srv.handleCount))
	mux.Handle("/api/runs/stream", srv.wrap("/api/runs/stream", srv.handleStream))
	mux.Handle("/api/runs/ws", srv.wrap("/api/runs/ws", srv.handleWS))
	mux.Handle("/api/helpers", srv.wrap("/api/helpers", srv.handleHelpers))
	mux.Handle("/api/cooldowns", srv.wrap("/api/cooldowns", srv.handleCooldowns))
	mux.Handle("/api/trigger", srv.wrap("/api/trigger", srv.handleTrigger))
	mux.Handle("/metrics", srv.metrics.Handler())
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Mux lets other packages mount routes on the same listener.
func (s *Server) Mux() *http.ServeMux { return s.mux }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.store.CountRuns(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListRuns(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.Run{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleHelpers(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		writeJSON(w, http.StatusOK, template.Helpers(key))
		return
	}
	writeJSON(w, http.StatusOK, template.Catalogue())
}

func (s *Server) handleCooldowns(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Cooldowns == nil {
		writeJSON(w, http.StatusOK, []trigger.Expiry{})
		return
	}
	snap := s.opts.Cooldowns.Snapshot(time.Now())
	if snap == nil {
		snap = []trigger.Expiry{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Trigger == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}

	testMode := false
	if raw := r.URL.Query().Get("test"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "test must be a boolean", http.StatusBadRequest)
			return
		}
		testMode = b
	}

	var ev core.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody)).Decode(&ev); err != nil {
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.Kind == "" {
		http.Error(w, "event type is required", http.StatusBadRequest)
		return
	}

	s.opts.Trigger.Submit(ev, testMode)
	s.metrics.IncTriggerSubmitted(testMode)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":  true,
		"test":    testMode,
		"pending": s.opts.Trigger.Pending(),
	})
}

func (s *Server) register(c *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *streamClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	client := &streamClient{ch: make(chan core.Run, 256), filters: filters.CloneForStream(), transport: "sse"}
	if !s.register(client) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unregister(client)
	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case run, ok := <-client.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(run)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: run\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncRunsSent("sse")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(baseWriter(w), r, s.cors.acceptOptions())
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	client := &streamClient{ch: make(chan core.Run, 256), filters: filters.CloneForStream(), transport: "ws"}
	if !s.register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(client)
	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case run, ok := <-client.ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, run)
			cancel()
			if err != nil {
				return
			}
			s.metrics.IncRunsSent("ws")
		}
	}
}

func stripScheme(origin string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(origin) > len(prefix) && origin[:len(prefix)] == prefix {
			return origin[len(prefix):]
		}
	}
	return origin
}

// Broadcast fans a run record out to stream clients whose filters match.
// Slow clients lose records rather than stalling the caller.
func (s *Server) Broadcast(run core.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		if !c.filters.Matches(run) {
			continue
		}
		select {
		case c.ch <- run:
		default:
			s.metrics.IncBroadcastDrops(c.transport)
		}
	}
}

// ReportWriteError feeds the storage error counter.
func (s *Server) ReportWriteError() {
	s.metrics.IncDBWriteErrors()
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.ch)
	}
	s.clients = make(map[*streamClient]struct{})
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
