package session

import (
	"bufio"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/peer"
	"github.com/routecore/bgpd/internal/table"
)

// readOneMessage reads exactly one framed BGP message off r.
func readOneMessage(t *testing.T, r *bufio.Reader) *bgp.Message {
	t.Helper()
	header := make([]byte, bgp.HeaderSize)
	if _, err := readFull(r, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	_, length, err := bgp.DecodeHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	frame := make([]byte, length)
	copy(frame, header)
	if _, err := readFull(r, frame[bgp.HeaderSize:]); err != nil {
		t.Fatalf("read body: %v", err)
	}
	msg, err := bgp.Decode(frame, bgp.ParseParam{FourByteAS: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestSessionEstablishesAndDumpsInitialRIB(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	g := global.New()
	barrier := global.NewStartBarrier()
	if err := g.StartBGP(65000, netip.MustParseAddr("10.0.0.1"), barrier); err != nil {
		t.Fatalf("StartBGP: %v", err)
	}

	rib := table.New(65000, false)
	localSrc := rib.LocalSource()
	nlri := bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("203.0.113.0"), PrefixLen: 24}}
	rib.Insert(bgp.FamilyIPv4Unicast, nlri, localSrc, netip.MustParseAddr("10.0.0.1"),
		bgp.NewPathAttr([]bgp.Attribute{bgp.OriginAttr{Value: bgp.OriginIGP}, bgp.ASPathAttr{}}))

	peerAddr := netip.MustParseAddr("192.0.2.1")
	p := peer.New(peerAddr, 65001, 65000, true, 90)

	s := New(serverConn, peerAddr, netip.MustParseAddr("192.0.2.254"), p, g, rib, zap.NewNop())
	go s.Run()

	clientReader := bufio.NewReader(clientConn)

	// Server sends OPEN first.
	openMsg := readOneMessage(t, clientReader)
	if openMsg.Type != bgp.MsgTypeOpen {
		t.Fatalf("expected OPEN from server, got type %d", openMsg.Type)
	}

	// Client replies with its own OPEN.
	clientConn.Write(bgp.EncodeOpen(65001, 90, netip.MustParseAddr("192.0.2.1"), Families))

	// Server responds with KEEPALIVE (OpenConfirm entry).
	ka := readOneMessage(t, clientReader)
	if ka.Type != bgp.MsgTypeKeepalive {
		t.Fatalf("expected KEEPALIVE after OPEN exchange, got type %d", ka.Type)
	}

	// Client sends KEEPALIVE to complete the three-way and reach Established.
	clientConn.Write(bgp.EncodeKeepalive())

	// Server performs its initial RIB dump: one UPDATE for the preloaded prefix.
	done := make(chan struct{})
	var update *bgp.Message
	go func() {
		update = readOneMessage(t, clientReader)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for initial RIB dump")
	}
	if update.Type != bgp.MsgTypeUpdate {
		t.Fatalf("expected UPDATE carrying initial RIB dump, got type %d", update.Type)
	}
	if len(update.Update.Announced[bgp.FamilyIPv4Unicast]) != 1 {
		t.Fatalf("expected 1 announced prefix in initial dump, got %d", len(update.Update.Announced[bgp.FamilyIPv4Unicast]))
	}
}
