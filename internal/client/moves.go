package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/tictacd/internal/game"
)

var ErrNoMoreMoves = errors.New("client: no more moves")

// MoveSource supplies the client's next cell (1-9).
type MoveSource interface {
	NextMove(ctx context.Context, b game.Board) (uint8, error)
}

// Display is called after every board mutation.
type Display func(b game.Board, viewer game.Mark)

// StrategySource plays the client's side with a game.Strategy.
type StrategySource struct {
	Strategy game.Strategy
}

func (s StrategySource) NextMove(_ context.Context, b game.Board) (uint8, error) {
	strategy := s.Strategy
	if strategy == nil {
		strategy = game.FirstFree{}
	}
	return strategy.Choose(b, game.X), nil
}

// ScriptedSource replays a fixed list of moves.
type ScriptedSource struct {
	Moves []uint8
	next  int
}

func (s *ScriptedSource) NextMove(_ context.Context, _ game.Board) (uint8, error) {
	if s.next >= len(s.Moves) {
		return 0, ErrNoMoreMoves
	}
	m := s.Moves[s.next]
	s.next++
	return m, nil
}

// LineSource reads one cell number per line, prompting on out.
type LineSource struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func NewLineSource(in io.Reader, out io.Writer) *LineSource {
	return &LineSource{scanner: bufio.NewScanner(in), out: out}
}

func (s *LineSource) NextMove(ctx context.Context, b game.Board) (uint8, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		fmt.Fprint(s.out, "your move (1-9): ")
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		n, err := strconv.Atoi(strings.TrimSpace(s.scanner.Text()))
		if err != nil || n < 1 || n > game.Size || !game.IsValidMove(b, uint8(n)) {
			fmt.Fprintln(s.out, "invalid move")
			continue
		}
		return uint8(n), nil
	}
}
