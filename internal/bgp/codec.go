package bgp

import (
	"encoding/binary"
	"fmt"
)

// Wire-level message header constants (RFC 4271 §4.1).
const (
	HeaderSize = 19
	MaxMessageSize = 4096

	MsgTypeOpen         uint8 = 1
	MsgTypeUpdate       uint8 = 2
	MsgTypeNotification uint8 = 3
	MsgTypeKeepalive    uint8 = 4
	MsgTypeRouteRefresh uint8 = 5
)

// Message is a decoded BGP message: exactly one of Open, Update,
// Notification, Keepalive, RouteRefresh is non-nil, discriminated by Type.
type Message struct {
	Type         uint8
	Open         *OpenMessage
	Update       *UpdateMessage
	Notification *NotificationMessage
	RouteRefresh *RouteRefreshMessage
}

// ParseParam carries the decode-time context a bare wire message cannot
// supply on its own: whether the session negotiated four-octet AS numbers
// (RFC 6793), needed to know how wide to read AS_PATH fields (AGGREGATOR's
// AS width is taken from the attribute length instead).
type ParseParam struct {
	FourByteAS bool
}

// marker is the 16-byte all-ones BGP header marker.
var marker = [16]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// EncodeFrame wraps a message body in the 19-byte BGP header (marker +
// length + type).
func EncodeFrame(msgType uint8, body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	copy(out[0:16], marker[:])
	binary.BigEndian.PutUint16(out[16:18], uint16(HeaderSize+len(body)))
	out[18] = msgType
	copy(out[HeaderSize:], body)
	return out
}

// DecodeHeader reads the 19-byte header and returns the type and total
// message length. It returns an error for a marker that is not all ones and
// for a length outside HeaderSize..MaxMessageSize.
func DecodeHeader(data []byte) (msgType uint8, length uint16, err error) {
	if len(data) < HeaderSize {
		return 0, 0, fmt.Errorf("bgp: short header (%d bytes)", len(data))
	}
	for _, b := range data[0:16] {
		if b != 0xff {
			return 0, 0, fmt.Errorf("bgp: invalid marker")
		}
	}
	length = binary.BigEndian.Uint16(data[16:18])
	if length < HeaderSize || length > MaxMessageSize {
		return 0, 0, fmt.Errorf("bgp: invalid message length %d", length)
	}
	msgType = data[18]
	return msgType, length, nil
}

// Decode parses one complete framed message (header + body, data sliced to
// exactly the frame length by the caller's reader).
func Decode(data []byte, param ParseParam) (*Message, error) {
	msgType, length, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if int(length) > len(data) {
		return nil, fmt.Errorf("bgp: truncated message")
	}
	body := data[HeaderSize:length]

	msg := &Message{Type: msgType}
	switch msgType {
	case MsgTypeOpen:
		o, err := decodeOpen(body)
		if err != nil {
			return nil, err
		}
		msg.Open = o
	case MsgTypeUpdate:
		u, err := decodeUpdate(body, param)
		if err != nil {
			return nil, err
		}
		msg.Update = u
	case MsgTypeNotification:
		n, err := decodeNotification(body)
		if err != nil {
			return nil, err
		}
		msg.Notification = n
	case MsgTypeKeepalive:
		if len(body) != 0 {
			return nil, fmt.Errorf("bgp: KEEPALIVE with non-empty body")
		}
	case MsgTypeRouteRefresh:
		r, err := decodeRouteRefresh(body)
		if err != nil {
			return nil, err
		}
		msg.RouteRefresh = r
	default:
		return nil, fmt.Errorf("bgp: unrecognized message type %d", msgType)
	}
	return msg, nil
}

// EncodeKeepalive returns a framed, empty-body KEEPALIVE message.
func EncodeKeepalive() []byte {
	return EncodeFrame(MsgTypeKeepalive, nil)
}
