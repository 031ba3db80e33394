// Package session drives one peer's TCP connection through the BGP FSM:
// OPEN negotiation, hold-timer/keepalive scheduling, UPDATE dispatch into
// the RIB, and the broadcast-to-outbound-UPDATE path. Grounded on the
// davidcoles-cue session FSM's select-loop shape (hold timer, keepalive
// ticker, inbound channel, outbound-update channel), generalized from a
// single-peer IPv4/IPv6 load-balancer advertiser to the full multi-peer
// Established/OpenSent/OpenConfirm FSM spec.md §4.5 specifies.
package session

import (
	"bufio"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/metrics"
	"github.com/routecore/bgpd/internal/peer"
	"github.com/routecore/bgpd/internal/rewrite"
	"github.com/routecore/bgpd/internal/table"
)

// Families is the set of address families this core negotiates.
var Families = []bgp.Family{bgp.FamilyIPv4Unicast, bgp.FamilyIPv6Unicast}

const minHoldTime = 3 * time.Second

// Session drives a single peer connection from OPEN through teardown.
type Session struct {
	conn      net.Conn
	localAddr netip.Addr
	peerAddr  netip.Addr

	peerRec *peer.Peer
	global  *global.Global
	rib     *table.Table
	log     *zap.Logger

	localHoldTime time.Duration

	state              peer.State
	negotiatedFamilies []bgp.Family
	keepaliveInterval  time.Duration
	source             *table.Source
	sender             *table.UpdateSender

	fourByteAS bool
}

// New constructs a Session bound to an already-accepted or already-dialed
// connection. The caller (package orchestrator) is responsible for peer
// matching; Session only drives the FSM.
func New(conn net.Conn, peerAddr, localAddr netip.Addr, peerRec *peer.Peer, g *global.Global, rib *table.Table, log *zap.Logger) *Session {
	holdTime := peerRec.HoldTime
	if holdTime == 0 {
		holdTime = 90
	}
	return &Session{
		conn:          conn,
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		peerRec:       peerRec,
		global:        g,
		rib:           rib,
		log:           log,
		localHoldTime: time.Duration(holdTime) * time.Second,
		state:         peer.OpenSent,
		fourByteAS:    true,
	}
}

// Run drives the session to completion (any I/O error, NOTIFICATION, or
// hold-timer-as-keepalive-tick design per spec.md §4.9) and performs
// teardown before returning.
func (s *Session) Run() {
	defer s.conn.Close()

	gsnap := s.global.Snapshot()
	localRouterID := gsnap.RouterID

	if _, err := s.conn.Write(bgp.EncodeOpen(gsnap.ASNumber, uint16(s.localHoldTime/time.Second), localRouterID, Families)); err != nil {
		s.log.Debug("open write failed", zap.Error(err))
		s.teardown("write_error")
		return
	}
	s.peerRec.State = peer.OpenSent

	msgs := make(chan *bgp.Message, 16)
	readErrs := make(chan error, 1)
	go s.readLoop(msgs, readErrs)

	holdTimer := time.NewTimer(s.localHoldTime)
	defer holdTimer.Stop()

	var broadcastC <-chan *table.TableUpdate

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.log.Debug("peer closed connection", zap.String("peer", s.peerAddr.String()))
				s.teardown("peer_closed")
				return
			}
			holdTimer.Reset(s.localHoldTime)
			done := s.handleMessage(msg, &broadcastC)
			if done {
				s.teardown("notification_or_protocol_error")
				return
			}

		case err := <-readErrs:
			s.log.Debug("read error", zap.Error(err))
			s.teardown("read_error")
			return

		case update, ok := <-broadcastC:
			if !ok {
				continue
			}
			if err := s.sendUpdate(update); err != nil {
				s.log.Debug("write error", zap.Error(err))
				s.teardown("write_error")
				return
			}

		case <-holdTimer.C:
			if s.state == peer.Established {
				if _, err := s.conn.Write(bgp.EncodeKeepalive()); err != nil {
					s.teardown("write_error")
					return
				}
				holdTimer.Reset(s.keepaliveInterval)
			} else {
				// Pre-Established: per spec.md §4.9 this is a documented gap —
				// treated as a liveness tick rather than a hard NOTIFY.
				holdTimer.Reset(s.localHoldTime)
			}
		}
	}
}

func (s *Session) readLoop(out chan<- *bgp.Message, errs chan<- error) {
	defer close(out)
	r := bufio.NewReaderSize(s.conn, bgp.MaxMessageSize)
	header := make([]byte, bgp.HeaderSize)
	for {
		if _, err := readFull(r, header); err != nil {
			errs <- err
			return
		}
		_, length, err := bgp.DecodeHeader(header)
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues(s.peerAddr.String()).Inc()
			errs <- err
			return
		}
		frame := make([]byte, length)
		copy(frame, header)
		if _, err := readFull(r, frame[bgp.HeaderSize:]); err != nil {
			errs <- err
			return
		}
		msg, err := bgp.Decode(frame, bgp.ParseParam{FourByteAS: s.fourByteAS})
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues(s.peerAddr.String()).Inc()
			errs <- err
			return
		}
		out <- msg
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// handleMessage dispatches on message type; it returns true when the
// session must terminate.
func (s *Session) handleMessage(msg *bgp.Message, broadcastC *<-chan *table.TableUpdate) bool {
	switch msg.Type {
	case bgp.MsgTypeOpen:
		return s.handleOpen(msg.Open, broadcastC)
	case bgp.MsgTypeKeepalive:
		return s.handleKeepalive(broadcastC)
	case bgp.MsgTypeUpdate:
		return s.handleUpdate(msg.Update)
	case bgp.MsgTypeNotification:
		s.log.Info("received NOTIFICATION", zap.Uint8("code", msg.Notification.Code), zap.Uint8("subcode", msg.Notification.Subcode))
		return true
	case bgp.MsgTypeRouteRefresh:
		// Logged, no response (spec.md §9 "route-refresh message is logged
		// but produces no response").
		s.log.Debug("received ROUTE-REFRESH", zap.Stringer("family", msg.RouteRefresh.Family))
		return false
	default:
		return false
	}
}

func (s *Session) handleOpen(open *bgp.OpenMessage, broadcastC *<-chan *table.TableUpdate) bool {
	remoteAS := open.EffectiveASNumber()
	if s.peerRec.RemoteAS != 0 && s.peerRec.RemoteAS != remoteAS {
		s.conn.Write(bgp.EncodeNotification(bgp.ErrCodeOpenMessage, openSubcodeBadPeerAS, nil))
		return true
	}

	s.peerRec.RouterID = open.RouterID
	s.peerRec.RemoteCap = &open.Capabilities

	var negotiated []bgp.Family
	for _, f := range Families {
		if open.Capabilities.SupportsFamily(f) {
			negotiated = append(negotiated, f)
		}
	}
	s.negotiatedFamilies = negotiated

	remoteHold := time.Duration(open.HoldTime) * time.Second
	effectiveHold := s.localHoldTime
	if remoteHold > 0 && remoteHold < effectiveHold {
		effectiveHold = remoteHold
	}
	if effectiveHold < minHoldTime {
		effectiveHold = minHoldTime
	}
	s.keepaliveInterval = effectiveHold / 3

	s.state = peer.OpenConfirm
	s.peerRec.State = peer.OpenConfirm
	s.peerRec.RemoteAS = remoteAS
	metrics.SessionStateTransitionsTotal.WithLabelValues(s.peerAddr.String(), s.state.String()).Inc()

	if _, err := s.conn.Write(bgp.EncodeKeepalive()); err != nil {
		return true
	}
	return false
}

func (s *Session) handleKeepalive(broadcastC *<-chan *table.TableUpdate) bool {
	switch s.state {
	case peer.OpenConfirm:
		s.state = peer.Established
		s.peerRec.State = peer.Established
		s.peerRec.Uptime = time.Now()
		metrics.SessionStateTransitionsTotal.WithLabelValues(s.peerAddr.String(), s.state.String()).Inc()
		metrics.SessionEstablishedTotal.WithLabelValues(s.peerAddr.String()).Inc()

		s.source = &table.Source{
			Address:   s.peerAddr,
			IBGP:      s.peerRec.RemoteAS == s.global.Snapshot().ASNumber,
			LocalAS:   s.global.Snapshot().ASNumber,
			LocalAddr: s.localAddr,
		}
		s.sender = s.rib.AddActivePeer(s.peerAddr, s.source)
		*broadcastC = s.sender.C()
	case peer.Established:
		// hold timer already reset by caller on any inbound message
	}
	return false
}

func (s *Session) handleUpdate(u *bgp.UpdateMessage) bool {
	if s.state != peer.Established {
		return false
	}
	for family, nlris := range u.Announced {
		nh := u.NextHop[family]
		metrics.UpdatesReceivedTotal.WithLabelValues(s.peerAddr.String(), "announce").Add(float64(len(nlris)))
		for _, n := range nlris {
			table_update, isNew := s.rib.Insert(family, n, s.source, nh, u.Attributes)
			if table_update != nil {
				s.rib.Broadcast(s.source, table_update)
			}
			if isNew {
				s.peerRec.UpdateAccepted(family, 1)
			}
		}
	}
	for family, nlris := range u.Withdrawn {
		metrics.UpdatesReceivedTotal.WithLabelValues(s.peerAddr.String(), "withdraw").Add(float64(len(nlris)))
		for _, n := range nlris {
			table_update, removed := s.rib.Remove(family, n, s.source)
			if table_update != nil {
				s.rib.Broadcast(s.source, table_update)
			}
			if removed {
				s.peerRec.UpdateAccepted(family, -1)
			}
		}
	}
	return false
}

func (s *Session) sendUpdate(u *table.TableUpdate) error {
	isMP := u.Family != bgp.FamilyIPv4Unicast
	msg := &bgp.UpdateMessage{
		Withdrawn: map[bgp.Family][]bgp.Nlri{},
		Announced: map[bgp.Family][]bgp.Nlri{},
	}
	switch u.Kind {
	case table.Withdrawn:
		msg.Withdrawn[u.Family] = []bgp.Nlri{u.Nlri}
		metrics.UpdatesSentTotal.WithLabelValues(s.peerAddr.String(), "withdraw").Inc()
	case table.NewBest:
		attrs := rewrite.Rewrite(rewrite.Input{
			IsIBGP:          s.source.IBGP,
			IsMP:            isMP,
			LocalAS:         s.global.Snapshot().ASNumber,
			Nlri:            u.Nlri,
			OriginalNextHop: u.Best.NextHop,
			LocalAddr:       s.localAddr,
			Stored:          u.Best.Attrs,
		})
		msg.Announced[u.Family] = []bgp.Nlri{u.Nlri}
		msg.Attributes = attrs
		metrics.UpdatesSentTotal.WithLabelValues(s.peerAddr.String(), "announce").Inc()
	}
	_, err := s.conn.Write(bgp.EncodeUpdate(msg))
	return err
}

// teardown removes the peer from active_peers, clears its RIB entries and
// broadcasts the resulting updates, then either drops a dynamic peer
// record entirely or resets it and (unless passive) queues a reconnect
// (spec.md §4.5 "Teardown").
func (s *Session) teardown(reason string) {
	metrics.SessionResetsTotal.WithLabelValues(s.peerAddr.String(), reason).Inc()
	if s.sender != nil {
		s.rib.RemoveActivePeer(s.peerAddr)
	}
	if s.source != nil {
		for _, update := range s.rib.Clear(s.source) {
			s.rib.Broadcast(s.source, update)
		}
	}

	if s.peerRec.IsDynamic {
		s.global.RemovePeer(s.peerAddr)
		return
	}

	s.peerRec.Reset()
	if !s.peerRec.Passive {
		select {
		case s.global.ActiveTx <- s.peerAddr:
		default:
		}
	}
}

const openSubcodeBadPeerAS uint8 = 2
