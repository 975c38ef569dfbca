package httpapi

import (
	"compress/gzip"
	"log"
	"net/http"
	"strings"
	"time"
)

// responseRecorder sits outermost on every wrapped route so metrics and the
// access log see the final status and byte count.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Bytes() int64 { return r.bytes }

// Flush keeps SSE working through the recorder and any gzip layer under it.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// baseWriter returns the writer the recorder wraps. WebSocket upgrades need
// its http.Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if rec, ok := w.(*responseRecorder); ok && rec.ResponseWriter != nil {
		return rec.ResponseWriter
	}
	return w
}

type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

func (g *gzipWriter) Flush() {
	_ = g.gz.Flush()
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipWriter) Close() error { return g.gz.Close() }

func wantsGzip(r *http.Request) bool {
	switch {
	case !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"):
		return false
	case r.Header.Get("Upgrade") != "":
		return false
	case strings.Contains(r.Header.Get("Accept"), "text/event-stream"):
		return false
	}
	return true
}

// maybeGzip slides a gzip layer between rec and the connection. The recorder
// stays outermost so it still counts what the handler wrote.
func maybeGzip(rec *responseRecorder, r *http.Request) (*gzipWriter, bool) {
	if !wantsGzip(r) {
		return nil, false
	}
	g := &gzipWriter{ResponseWriter: rec.ResponseWriter, gz: gzip.NewWriter(rec.ResponseWriter)}
	rec.Header().Set("Content-Encoding", "gzip")
	rec.Header().Add("Vary", "Accept-Encoding")
	rec.ResponseWriter = g
	return g, true
}

// wrap runs h behind CORS, the per-client limiter for the route, gzip,
// request metrics and the optional access log.
func (s *Server) wrap(route string, h http.HandlerFunc) http.Handler {
	limiter := s.limiter
	if route == "/api/trigger" {
		limiter = s.triggerLimiter
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		defer s.observe(route, rec, r, start)

		if s.cors.preflight(rec, r) {
			return
		}
		if !s.cors.allow(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			return
		}
		if !limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			rec.Header().Set("Retry-After", "1")
			http.Error(rec, "rate limited", http.StatusTooManyRequests)
			return
		}
		if g, ok := maybeGzip(rec, r); ok {
			defer g.Close()
		}
		h(rec, r)
	})
}

func (s *Server) observe(route string, rec *responseRecorder, r *http.Request, start time.Time) {
	dur := time.Since(start)
	s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur, rec.Bytes())
	if s.opts.AccessLog {
		log.Printf("http: %s %s %d %dB %s ip=%s", r.Method, r.URL.Path, rec.Status(), rec.Bytes(), dur.Round(time.Microsecond), remoteIP(r))
	}
}
