// Command bgpdump decodes a stream of framed BGP-4 messages (stdin or a
// file of concatenated wire-format messages, e.g. a TCP payload capture of
// a session on port 179) and prints one human-readable summary per
// message. Its sole job is offline debugging of wire bytes the daemon
// already parses, outside the daemon process.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/routecore/bgpd/internal/bgp"
)

func main() {
	fourByteAS := false
	path := ""
	for _, arg := range os.Args[1:] {
		if arg == "--four-byte-as" {
			fourByteAS = true
			continue
		}
		path = arg
	}

	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bgpdump: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	br := bufio.NewReader(r)
	param := bgp.ParseParam{FourByteAS: fourByteAS}

	msgNum := 0
	for {
		frame, err := readFrame(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "bgpdump: %v\n", err)
			os.Exit(1)
		}
		msgNum++

		msg, err := bgp.Decode(frame, param)
		fmt.Printf("=== message %d (%d bytes) ===\n", msgNum, len(frame))
		if err != nil {
			fmt.Printf("  decode error: %v\n", err)
			fmt.Printf("  hex: %s\n", hex.EncodeToString(frame))
			fmt.Println()
			continue
		}
		describeMessage(msg)
		fmt.Println()
	}

	fmt.Printf("total messages: %d\n", msgNum)
}

// readFrame reads exactly one framed message: the 19-byte header, then the
// remainder of the body per the length it declares.
func readFrame(br *bufio.Reader) ([]byte, error) {
	header := make([]byte, bgp.HeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	_, length, err := bgp.DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, length)
	copy(frame, header)
	if _, err := io.ReadFull(br, frame[bgp.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("bgpdump: truncated body: %w", err)
	}
	return frame, nil
}

func describeMessage(msg *bgp.Message) {
	switch msg.Type {
	case bgp.MsgTypeOpen:
		describeOpen(msg.Open)
	case bgp.MsgTypeUpdate:
		describeUpdate(msg.Update)
	case bgp.MsgTypeNotification:
		n := msg.Notification
		fmt.Printf("  NOTIFICATION code=%d subcode=%d data=%s\n",
			n.Code, n.Subcode, hex.EncodeToString(n.Data))
	case bgp.MsgTypeKeepalive:
		fmt.Println("  KEEPALIVE")
	case bgp.MsgTypeRouteRefresh:
		fmt.Printf("  ROUTE-REFRESH %s\n", msg.RouteRefresh.Family)
	default:
		fmt.Printf("  unknown message type %d\n", msg.Type)
	}
}

func describeOpen(o *bgp.OpenMessage) {
	fmt.Printf("  OPEN version=%d as=%d hold_time=%d router_id=%s\n",
		o.Version, o.ASNumber, o.HoldTime, o.RouterID)
	if o.Capabilities.FourByteAS != 0 {
		fmt.Printf("    capability: four-octet AS %d\n", o.Capabilities.FourByteAS)
	}
	if o.Capabilities.RouteRefresh {
		fmt.Println("    capability: route refresh")
	}
	for _, f := range o.Capabilities.MultiprotocolFamilies {
		fmt.Printf("    capability: multiprotocol %s\n", f)
	}
}

func describeUpdate(u *bgp.UpdateMessage) {
	if u.IsEndOfRIB() {
		fmt.Println("  UPDATE (end-of-RIB marker)")
		return
	}

	for family, nlris := range u.Withdrawn {
		for _, n := range nlris {
			fmt.Printf("  WITHDRAW %s %s\n", family, n)
		}
	}

	var origin, asPathLen, localPref, med string
	if u.Attributes != nil {
		origin = originName(u.Attributes.Origin())
		asPathLen = fmt.Sprintf("%d", u.Attributes.ASPathLength())
		localPref = fmt.Sprintf("%d", u.Attributes.LocalPref())
		med = fmt.Sprintf("%d", u.Attributes.MED())
	}

	for family, nlris := range u.Announced {
		nh := u.NextHop[family]
		for _, n := range nlris {
			fmt.Printf("  ANNOUNCE %s %s nexthop=%s origin=%s as_path_len=%s local_pref=%s med=%s\n",
				family, n, nh, origin, asPathLen, localPref, med)
		}
	}
}

func originName(v uint8) string {
	switch v {
	case bgp.OriginIGP:
		return "igp"
	case bgp.OriginEGP:
		return "egp"
	default:
		return "incomplete"
	}
}
