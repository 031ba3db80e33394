package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/controlapi"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/table"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping() error { return f.err }

func newTestService(t *testing.T) *controlapi.Service {
	t.Helper()
	g := global.New()
	barrier := global.NewStartBarrier()
	rib := table.New(65000, false)
	return controlapi.New(g, rib, barrier, zap.NewNop())
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := NewServer(":0", newTestService(t), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyzNotReadyBeforeStart(t *testing.T) {
	s := NewServer(":0", newTestService(t), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start_bgp, got %d", w.Code)
	}
}

func TestReadyzReadyAfterStartAndHealthyDB(t *testing.T) {
	ctl := newTestService(t)
	if err := ctl.StartBGP(65000, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatalf("StartBGP: %v", err)
	}
	s := NewServer(":0", ctl, fakeDB{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestReadyzDBErrorIsNotReady(t *testing.T) {
	ctl := newTestService(t)
	if err := ctl.StartBGP(65000, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatalf("StartBGP: %v", err)
	}
	s := NewServer(":0", ctl, fakeDB{err: errors.New("down")}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on db error, got %d", w.Code)
	}
}

func TestGetBGPReflectsSnapshot(t *testing.T) {
	ctl := newTestService(t)
	if err := ctl.StartBGP(65001, netip.MustParseAddr("192.0.2.1")); err != nil {
		t.Fatalf("StartBGP: %v", err)
	}
	s := NewServer(":0", ctl, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/bgp", nil)
	w := httptest.NewRecorder()

	s.handleGetBGP(w, req)

	var snap struct {
		ASNumber uint32
		Started  bool
	}
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ASNumber != 65001 || !snap.Started {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestGetTableRejectsMalformedAFISAFI(t *testing.T) {
	s := NewServer(":0", newTestService(t), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/table/not-a-number/1", nil)
	w := httptest.NewRecorder()

	s.handleGetTable(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTableGlobalViewEmpty(t *testing.T) {
	s := NewServer(":0", newTestService(t), nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/api/table/1/1", nil)
	w := httptest.NewRecorder()

	s.handleGetTable(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var paths []controlapi.PathResult
	if err := json.NewDecoder(w.Body).Decode(&paths); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected empty table, got %d paths", len(paths))
	}
}
