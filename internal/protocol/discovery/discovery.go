// Package discovery locates a server over UDP multicast when its stream
// address is unknown or unreachable.
//
// Request datagram:  [version][1]
// Response datagram: [version][2][portHi][portLo]
package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/tictacd/internal/protocol/frame"
)

const (
	RequestCode  uint8 = 1
	ResponseCode uint8 = 2

	RequestLen  = 2
	ResponseLen = 4

	DefaultGroup = "239.0.0.1:5050"
)

var (
	ErrMalformed  = errors.New("discovery: malformed datagram")
	ErrNoResponse = errors.New("discovery: no response")
)

func EncodeRequest() []byte {
	return []byte{frame.Version, RequestCode}
}

func DecodeRequest(b []byte) error {
	if len(b) < RequestLen {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0] != frame.Version || b[1] != RequestCode {
		return fmt.Errorf("%w: version=%d code=%d", ErrMalformed, b[0], b[1])
	}
	return nil
}

func EncodeResponse(port uint16) []byte {
	b := make([]byte, ResponseLen)
	b[0] = frame.Version
	b[1] = ResponseCode
	binary.BigEndian.PutUint16(b[2:], port)
	return b
}

func DecodeResponse(b []byte) (uint16, error) {
	if len(b) < ResponseLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if b[0] != frame.Version || b[1] != ResponseCode {
		return 0, fmt.Errorf("%w: version=%d code=%d", ErrMalformed, b[0], b[1])
	}
	port := binary.BigEndian.Uint16(b[2:])
	if port == 0 {
		return 0, fmt.Errorf("%w: port 0", ErrMalformed)
	}
	return port, nil
}

// Responder answers locate requests with the advertised stream port.
type Responder struct {
	port uint16
}

func NewResponder(port uint16) *Responder {
	return &Responder{port: port}
}

func (r *Responder) Port() uint16 {
	return r.port
}

// Reply validates req and returns the response datagram.
func (r *Responder) Reply(req []byte) ([]byte, error) {
	if err := DecodeRequest(req); err != nil {
		return nil, err
	}
	return EncodeResponse(r.port), nil
}
