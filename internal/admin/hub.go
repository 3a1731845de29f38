package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tictacd/internal/game"
	"github.com/danmuck/tictacd/internal/match"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 5 * time.Second
	DefaultQueueDepth = 32
)

const (
	EventBoard = "board"
	EventEnded = "ended"
)

// Event is one message on the spectator feed.
type Event struct {
	Kind    string    `json:"kind"`
	Session uint8     `json:"session"`
	Board   string    `json:"board"`
	Moves   int       `json:"moves"`
	Reason  string    `json:"reason,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	At      time.Time `json:"at"`
}

type subscriber struct {
	queue   chan []byte
	dropped atomic.Uint64
}

// Hub fans board changes and session ends out to websocket spectators.
// It is a match.Observer: publishing never blocks, a subscriber whose queue
// is full misses the event.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	depth       int
	closed      bool
	upgrader    websocket.Upgrader
}

var _ match.Observer = (*Hub)(nil)

func NewHub(depth int) *Hub {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		depth:       depth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Hub) BoardChanged(id uint8, board game.Board, _ game.Mark) {
	h.publish(Event{
		Kind:    EventBoard,
		Session: id,
		Board:   match.BoardString(board),
		Moves:   board.Moves(),
		At:      time.Now().UTC(),
	})
}

func (h *Hub) SessionEnded(r match.Result) {
	h.publish(Event{
		Kind:    EventEnded,
		Session: r.ID,
		Board:   match.BoardString(r.Board),
		Moves:   r.Moves,
		Reason:  string(r.Reason),
		Outcome: r.Outcome.String(),
		At:      r.Ended.UTC(),
	})
}

// Subscribers reports the number of connected spectators.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every spectator and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.queue)
		delete(h.subscribers, sub)
	}
}

func (h *Hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal spectator event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.queue <- data:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe() (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{queue: make(chan []byte, h.depth)}
	h.subscribers[sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.queue)
}

// ServeWS upgrades the request and streams events until the spectator goes
// away or the hub closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, ok := h.subscribe()
	if !ok {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("spectator joined")

	// Spectators only listen; reading surfaces their close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.unsubscribe(sub)
		log.Debug().
			Str("remote", r.RemoteAddr).
			Uint64("dropped", sub.dropped.Load()).
			Msg("spectator left")
	}()
	for {
		select {
		case <-gone:
			return
		case data, ok := <-sub.queue:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
