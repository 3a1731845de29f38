package match

import (
	"time"

	"github.com/danmuck/tictacd/internal/game"
)

// Reason explains why a slot was released.
type Reason string

const (
	ReasonCompleted  Reason = "completed"
	ReasonProtocol   Reason = "protocol_error"
	ReasonPeerError  Reason = "peer_error"
	ReasonRetryCap   Reason = "retry_cap"
	ReasonTimeout    Reason = "timeout"
	ReasonDisconnect Reason = "disconnect"
	ReasonTransport  Reason = "transport"
	ReasonShutdown   Reason = "shutdown"
)

// Result describes a released session.
type Result struct {
	ID      uint8
	Remote  string
	Reason  Reason
	Outcome game.Outcome // server's perspective
	Moves   int
	Board   game.Board
	Started time.Time
	Ended   time.Time
}

// Observer receives board mutations and session ends. Calls are made from
// the table owner's goroutine and must not block.
type Observer interface {
	BoardChanged(id uint8, board game.Board, viewer game.Mark)
	SessionEnded(r Result)
}

type NopObserver struct{}

func (NopObserver) BoardChanged(uint8, game.Board, game.Mark) {}
func (NopObserver) SessionEnded(Result) {}

// Observers fans every callback out in order.
type Observers []Observer

func (o Observers) BoardChanged(id uint8, board game.Board, viewer game.Mark) {
	for _, obs := range o {
		obs.BoardChanged(id, board, viewer)
	}
}

func (o Observers) SessionEnded(r Result) {
	for _, obs := range o {
		obs.SessionEnded(r)
	}
}
