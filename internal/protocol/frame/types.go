package frame

import "fmt"

// Status is the third frame byte.
type Status uint8

const (
	StatusOngoing  Status = 0
	StatusComplete Status = 1
	StatusError    Status = 2
)

func (s Status) Valid() bool {
	return s <= StatusError
}

func (s Status) String() string {
	switch s {
	case StatusOngoing:
		return "ongoing"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the status modifier carried with StatusComplete.
type Result uint8

const (
	ResultNone Result = 0
	ResultDraw Result = 1
	ResultWin  Result = 2
	ResultLose Result = 3
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultDraw:
		return "draw"
	case ResultWin:
		return "win"
	case ResultLose:
		return "lose"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Fault is the status modifier carried with StatusError.
type Fault uint8

const (
	FaultNone           Fault = 0
	FaultOutOfResources Fault = 1
	FaultMalformed      Fault = 2
	FaultShutdown       Fault = 3
	FaultTimeout        Fault = 4
	FaultTryAgain       Fault = 5
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultOutOfResources:
		return "out of resources"
	case FaultMalformed:
		return "malformed request"
	case FaultShutdown:
		return "server shutdown"
	case FaultTimeout:
		return "time out"
	case FaultTryAgain:
		return "try again"
	default:
		return fmt.Sprintf("unknown error(%d)", uint8(f))
	}
}

// Retryable reports whether a peer may repeat a refused session request.
func (f Fault) Retryable() bool {
	return f == FaultOutOfResources || f == FaultTryAgain
}

// MessageType is the fifth frame byte.
type MessageType uint8

const (
	TypeNewSession MessageType = 0
	TypeMove       MessageType = 1
	TypeEndSession MessageType = 2
	TypeReconnect  MessageType = 3
)

func (t MessageType) Valid() bool {
	return t <= TypeReconnect
}

func (t MessageType) String() string {
	switch t {
	case TypeNewSession:
		return "new_session"
	case TypeMove:
		return "move"
	case TypeEndSession:
		return "end_session"
	case TypeReconnect:
		return "reconnect"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Snapshot cell codes, relative to the sender of the Reconnect frame.
const (
	CellEmpty    uint8 = 0
	CellMine     uint8 = 1
	CellOpponent uint8 = 2
)
