package bgp

import "fmt"

// NOTIFICATION error codes (RFC 4271 §4.5, subset this core emits/parses).
const (
	ErrCodeMessageHeader     uint8 = 1
	ErrCodeOpenMessage       uint8 = 2
	ErrCodeUpdateMessage     uint8 = 3
	ErrCodeHoldTimerExpired  uint8 = 4
	ErrCodeFSM               uint8 = 5
	ErrCodeCease             uint8 = 6
)

// Cease subcodes (RFC 4486, subset).
const (
	CeaseAdministrativeShutdown uint8 = 2
	CeaseConnectionRejected     uint8 = 5
	CeaseOtherConfigChange      uint8 = 6
)

type NotificationMessage struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func (n *NotificationMessage) Error() string {
	return fmt.Sprintf("bgp NOTIFICATION code=%d subcode=%d (%d bytes data)", n.Code, n.Subcode, len(n.Data))
}

func decodeNotification(body []byte) (*NotificationMessage, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("bgp: short NOTIFICATION body")
	}
	return &NotificationMessage{
		Code:    body[0],
		Subcode: body[1],
		Data:    append([]byte(nil), body[2:]...),
	}, nil
}

// EncodeNotification builds a framed NOTIFICATION message.
func EncodeNotification(code, subcode uint8, data []byte) []byte {
	body := append([]byte{code, subcode}, data...)
	return EncodeFrame(MsgTypeNotification, body)
}

// RouteRefreshMessage is the decoded ROUTE-REFRESH body (RFC 2918). This
// core logs receipt of route-refresh requests but does not re-advertise
// (no Adj-RIB-Out re-send on demand) — see DESIGN.md.
type RouteRefreshMessage struct {
	Family Family
}

func decodeRouteRefresh(body []byte) (*RouteRefreshMessage, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("bgp: short ROUTE-REFRESH body")
	}
	afi := uint16(body[0])<<8 | uint16(body[1])
	safi := body[3]
	return &RouteRefreshMessage{Family: NewFamily(afi, safi)}, nil
}

// EncodeRouteRefresh builds a framed ROUTE-REFRESH message for one family.
func EncodeRouteRefresh(f Family) []byte {
	body := []byte{byte(f.AFI() >> 8), byte(f.AFI()), 0, f.SAFI()}
	return EncodeFrame(MsgTypeRouteRefresh, body)
}
