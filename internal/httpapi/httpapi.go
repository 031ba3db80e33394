// Package httpapi mounts a read-only JSON mirror of controlapi.Service
// plus health/readiness/metrics endpoints, bound to Service.HTTPListen —
// separate from the BGP listener on :179.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/controlapi"
)

// DBChecker abstracts the telemetry database health check for testability,
// matching the ambient stack's readyz shape. Nil when telemetry is disabled.
type DBChecker interface {
	Ping() error
}

type Server struct {
	srv     *http.Server
	control *controlapi.Service
	db      DBChecker
	log     *zap.Logger
}

func NewServer(addr string, control *controlapi.Service, db DBChecker, log *zap.Logger) *Server {
	s := &Server{control: control, db: db, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/bgp", s.handleGetBGP)
	mux.HandleFunc("/api/peers", s.handleListPeers)
	mux.HandleFunc("/api/table/", s.handleGetTable)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start listens and serves in a background goroutine, returning once the
// listener is bound so callers know the address is live.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http api listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http api server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	snap := s.control.GetBGP()
	if snap.Started {
		checks["bgp"] = "ok"
	} else {
		checks["bgp"] = "not_started"
		ready = false
	}

	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			checks["postgres"] = "error"
			ready = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	status := http.StatusOK
	resp := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		resp = "not_ready"
	}
	writeJSON(w, status, map[string]any{"status": resp, "checks": checks})
}

func (s *Server) handleGetBGP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.GetBGP())
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	var addr netip.Addr
	if q := r.URL.Query().Get("address"); q != "" {
		parsed, err := netip.ParseAddr(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid address"})
			return
		}
		addr = parsed
	}
	writeJSON(w, http.StatusOK, s.control.ListPeer(addr))
}

// handleGetTable serves /api/table/{afi}/{safi}?view=global|adj-in|adj-out&peer=<addr>.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/table/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected /api/table/{afi}/{safi}"})
		return
	}
	afi, err1 := strconv.ParseUint(parts[0], 10, 16)
	safi, err2 := strconv.ParseUint(parts[1], 10, 8)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "afi/safi must be numeric"})
		return
	}
	family := bgp.NewFamily(uint16(afi), uint8(safi))

	view := controlapi.ViewGlobal
	switch r.URL.Query().Get("view") {
	case "", "global":
		view = controlapi.ViewGlobal
	case "adj-in":
		view = controlapi.ViewAdjIn
	case "adj-out":
		view = controlapi.ViewAdjOut
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown view"})
		return
	}

	var peerAddr netip.Addr
	if q := r.URL.Query().Get("peer"); q != "" {
		parsed, err := netip.ParseAddr(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid peer address"})
			return
		}
		peerAddr = parsed
	}

	paths, err := s.control.ListPath(view, family, peerAddr)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, paths)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
