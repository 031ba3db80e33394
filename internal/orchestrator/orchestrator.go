// Package orchestrator listens for inbound BGP connections, dispatches
// active-connect attempts with retry back-off, matches addresses to
// configured or dynamic peers, and spawns one session.Session per
// connection.
package orchestrator

import (
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/metrics"
	"github.com/routecore/bgpd/internal/peer"
	"github.com/routecore/bgpd/internal/session"
	"github.com/routecore/bgpd/internal/table"
)

const (
	initialActiveDelay = 5 * time.Second
	backoffActiveDelay = 15 * time.Second
)

// Orchestrator owns the BGP listener and the active-connect retry queue.
type Orchestrator struct {
	listenAddr string
	global     *global.Global
	rib        *table.Table
	log        *zap.Logger
	barrier    *global.StartBarrier
}

func New(listenAddr string, g *global.Global, rib *table.Table, barrier *global.StartBarrier, log *zap.Logger) *Orchestrator {
	return &Orchestrator{listenAddr: listenAddr, global: g, rib: rib, barrier: barrier, log: log}
}

// Run blocks until the start barrier trips, then runs the accept loop and
// the active-connect retry queue concurrently until ln closes.
func (o *Orchestrator) Run() error {
	<-o.barrier.Wait()

	ln, err := net.Listen("tcp", o.listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go o.activeConnectLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			o.log.Error("accept failed", zap.Error(err))
			return err
		}
		go o.handleConnection(conn)
	}
}

// activeConnectLoop drains Global.ActiveTx, dialing each address with the
// initial/back-off delay schedule spec.md §4.6 specifies: on enqueue, a
// 5-second initial delay; on connect failure, reschedule at 15 seconds.
func (o *Orchestrator) activeConnectLoop() {
	type pending struct {
		addr netip.Addr
		at   time.Time
	}
	var queue []pending

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case addr := <-o.global.ActiveTx:
			if o.rib.IsActivePeer(addr) {
				continue // duplicate active-connect request for already-connected peer: drop
			}
			queue = append(queue, pending{addr: addr, at: time.Now().Add(initialActiveDelay)})

		case <-ticker.C:
			now := time.Now()
			var remaining []pending
			for _, p := range queue {
				if now.Before(p.at) {
					remaining = append(remaining, p)
					continue
				}
				if o.rib.IsActivePeer(p.addr) {
					continue
				}
				conn, err := net.DialTimeout("tcp", net.JoinHostPort(p.addr.String(), "179"), 5*time.Second)
				if err != nil {
					metrics.ActiveConnectAttemptsTotal.WithLabelValues("failure").Inc()
					o.log.Debug("active connect failed, rescheduling", zap.String("peer", p.addr.String()), zap.Error(err))
					remaining = append(remaining, pending{addr: p.addr, at: now.Add(backoffActiveDelay)})
					continue
				}
				metrics.ActiveConnectAttemptsTotal.WithLabelValues("success").Inc()
				go o.handleConnection(conn)
			}
			queue = remaining
		}
	}
}

func (o *Orchestrator) handleConnection(conn net.Conn) {
	remoteAddr, ok := normalizeAddr(conn.RemoteAddr())
	if !ok {
		o.log.Warn("could not parse remote address, dropping connection")
		conn.Close()
		return
	}
	localAddr, _ := normalizeAddr(conn.LocalAddr())

	peerRec, ok := o.global.Peer(remoteAddr)
	if !ok {
		group, matched := o.global.MatchDynamicPeer(remoteAddr)
		if !matched {
			o.log.Info("no configured or dynamic peer for address, dropping", zap.String("addr", remoteAddr.String()))
			conn.Close()
			return
		}
		peerRec = peer.New(remoteAddr, group.ASNumber, o.global.Snapshot().ASNumber, true, 90)
		peerRec.IsDynamic = true
		if err := o.global.AddPeer(peerRec); err != nil {
			o.log.Warn("failed to register dynamic peer", zap.Error(err))
			conn.Close()
			return
		}
	}

	sess := session.New(conn, remoteAddr, localAddr, peerRec, o.global, o.rib, o.log)
	sess.Run()
}

// normalizeAddr maps IPv4-mapped-IPv6 addresses to plain IPv4, per
// spec.md §4.6 step 1.
func normalizeAddr(a net.Addr) (netip.Addr, bool) {
	tcpAddr, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
