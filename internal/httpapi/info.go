package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type infoResponse struct {
	Version      string `json:"version"`
	Revision     string `json:"rev"`
	BuiltAt      string `json:"built_at"`
	Go           string `json:"go"`
	Rules        int    `json:"rules"`
	Pending      int    `json:"pending"`
	OBSConnected bool   `json:"obs_connected"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:  s.opts.Build.Version,
		Revision: s.opts.Build.Revision,
		Go:       runtime.Version(),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if s.opts.Rules != nil {
		resp.Rules = s.opts.Rules.Len()
	}
	if s.opts.Trigger != nil {
		resp.Pending = s.opts.Trigger.Pending()
	}
	if s.opts.Surface != nil {
		resp.OBSConnected = s.opts.Surface.Connected()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
