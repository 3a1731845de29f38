package session

import "fmt"

// Order classifies an inbound sequence number against the ladder.
type Order int

const (
	InOrder Order = iota
	Duplicate
	OutOfOrder
)

func (o Order) String() string {
	switch o {
	case InOrder:
		return "in_order"
	case Duplicate:
		return "duplicate"
	case OutOfOrder:
		return "out_of_order"
	default:
		return fmt.Sprintf("order(%d)", int(o))
	}
}

const (
	// ServerBaseline is what a server expects as the first frame of a session.
	ServerBaseline uint8 = 0
	// ClientBaseline is what a client expects as the reply to NewSession or Reconnect.
	ClientBaseline uint8 = 1
)

// Ladder tracks the next sequence number the peer must send.
type Ladder struct {
	expected uint8
}

func NewLadder(baseline uint8) Ladder {
	return Ladder{expected: baseline}
}

func (l Ladder) Expected() uint8 {
	return l.expected
}

// Classify compares recv with the expected value using serial-number
// arithmetic, so a ladder that wrapped past 255 still orders correctly.
func (l Ladder) Classify(recv uint8) Order {
	diff := int8(recv - l.expected)
	switch {
	case diff == 0:
		return InOrder
	case diff < 0:
		return Duplicate
	default:
		return OutOfOrder
	}
}

// Accept commits an in-order frame and returns the sequence number of its reply.
func (l *Ladder) Accept(recv uint8) uint8 {
	send := ReplySeq(recv)
	l.expected = send + 1
	return send
}

// Reset restarts the ladder, as done on reconnection.
func (l *Ladder) Reset(baseline uint8) {
	l.expected = baseline
}

// ReplySeq is the sequence number answering recv.
func ReplySeq(recv uint8) uint8 {
	return recv + 1
}
