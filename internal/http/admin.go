package httpadmin

import (
	"encoding/json"
	"net/http"
)

type Reloader interface {
	ReloadRules() (rules int, err error)
}

type CooldownResetter interface {
	Reset()
}

type Server struct {
	rel       Reloader
	cooldowns CooldownResetter
}

// New builds the admin routes. cooldowns may be nil, in which case the reset
// route is not registered.
func New(rel Reloader, cooldowns CooldownResetter) *Server {
	return &Server{rel: rel, cooldowns: cooldowns}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/rules/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n, err := s.rel.ReloadRules()
		if err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "reloaded": true, "rules": n})
	})
	if s.cooldowns == nil {
		return
	}
	mux.HandleFunc("/admin/cooldowns/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.cooldowns.Reset()
		writeJSON(w, map[string]any{"status": "ok", "reset": true})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
