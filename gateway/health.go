package gateway

import (
	"context"
	"net/http"
	"sort"
	"time"
)

type healthResponse struct {
	Status string `json:"status"`
}

type readyResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.ready))
	for name := range s.ready {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readyResponse{Ready: true, Checks: make(map[string]string, len(names))}
	for _, name := range names {
		p := s.ready[name]
		if p == nil {
			continue
		}
		pctx, pcancel := context.WithTimeout(ctx, 500*time.Millisecond)
		err := p.Ping(pctx)
		pcancel()
		if err != nil {
			s.log.Error("readiness check failed", map[string]any{"dependency": name, "error": err})
			resp.Checks[name] = "down"
			resp.Ready = false
			continue
		}
		resp.Checks[name] = "up"
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
