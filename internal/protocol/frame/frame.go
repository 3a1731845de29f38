package frame

import (
	"errors"
	"fmt"
	"io"
)

const (
	Version uint8 = 8
	// FrameLen is the fixed size of every frame on the stream.
	FrameLen = 16
	// SnapshotOffset is where Reconnect frames carry their nine cell codes.
	SnapshotOffset = 7
	Cells          = 9
)

var (
	ErrMalformed          = errors.New("frame: malformed")
	ErrShortFrame         = fmt.Errorf("%w: short frame", ErrMalformed)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)
	ErrInvalidField       = fmt.Errorf("%w: invalid field", ErrMalformed)
)

// Message is one decoded frame.
type Message struct {
	Version   uint8
	Choice    uint8
	Status    Status
	Modifier  uint8
	Type      MessageType
	SessionID uint8
	Seq       uint8
	Snapshot  [Cells]uint8
}

// Result returns the modifier interpreted as a completion result.
func (m Message) Result() Result {
	return Result(m.Modifier)
}

// Fault returns the modifier interpreted as an error code.
func (m Message) Fault() Fault {
	return Fault(m.Modifier)
}

// Validate checks field ranges. Decode does not call it.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: message type %d", ErrInvalidField, m.Type)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("%w: status %d", ErrInvalidField, m.Status)
	}
	switch m.Status {
	case StatusComplete:
		if r := m.Result(); r < ResultDraw || r > ResultLose {
			return fmt.Errorf("%w: result modifier %d", ErrInvalidField, m.Modifier)
		}
	case StatusError:
		if f := m.Fault(); f < FaultOutOfResources || f > FaultTryAgain {
			return fmt.Errorf("%w: error modifier %d", ErrInvalidField, m.Modifier)
		}
	}
	if m.Choice > Cells {
		return fmt.Errorf("%w: choice %d", ErrInvalidField, m.Choice)
	}
	if m.Type == TypeReconnect {
		for i, c := range m.Snapshot {
			if c > CellOpponent {
				return fmt.Errorf("%w: snapshot cell %d code %d", ErrInvalidField, i, c)
			}
		}
	}
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("type=%s choice=%d status=%s modifier=%d session=%d seq=%d",
		m.Type, m.Choice, m.Status, m.Modifier, m.SessionID, m.Seq)
}

// Encode renders m into a fixed-length buffer. The version byte is always Version.
func Encode(m Message) []byte {
	buf := make([]byte, FrameLen)
	buf[0] = Version
	buf[1] = m.Choice
	buf[2] = byte(m.Status)
	buf[3] = m.Modifier
	buf[4] = byte(m.Type)
	buf[5] = m.SessionID
	buf[6] = m.Seq
	if m.Type == TypeReconnect {
		copy(buf[SnapshotOffset:SnapshotOffset+Cells], m.Snapshot[:])
	}
	return buf
}

// Decode parses one frame. Only length and version are checked here.
func Decode(b []byte) (Message, error) {
	if len(b) < FrameLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	m := Message{
		Version:   b[0],
		Choice:    b[1],
		Status:    Status(b[2]),
		Modifier:  b[3],
		Type:      MessageType(b[4]),
		SessionID: b[5],
		Seq:       b[6],
	}
	if m.Type == TypeReconnect {
		copy(m.Snapshot[:], b[SnapshotOffset:SnapshotOffset+Cells])
	}
	if m.Version != Version {
		return m, fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.Version)
	}
	return m, nil
}

// ReadFrame reads exactly one frame from r. A clean close before any byte
// yields io.EOF; a frame cut short yields io.ErrUnexpectedEOF.
// Malformed frames are fully consumed so the stream stays aligned.
func ReadFrame(r io.Reader) (Message, error) {
	var buf [FrameLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Message{}, err
	}
	return Decode(buf[:])
}

func WriteFrame(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}

// ErrorFrame builds an error reply.
func ErrorFrame(fault Fault, sessionID, seq uint8) Message {
	return Message{
		Status:    StatusError,
		Modifier:  uint8(fault),
		Type:      TypeMove,
		SessionID: sessionID,
		Seq:       seq,
	}
}
