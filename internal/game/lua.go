package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

const (
	luaEntryPoint = "choose_move"

	// DefaultLuaTimeout bounds one choose_move call.
	DefaultLuaTimeout = 100 * time.Millisecond
)

var ErrNoEntryPoint = errors.New("game: script does not define choose_move")

// LuaStrategy delegates counter-moves to a script's choose_move(cells)
// function. cells is a 1-based table of snapshot codes seen from the
// strategy's side (0 empty, 1 own, 2 opponent); the function returns 1-9.
// Answers that are not a free cell, and calls that run past the timeout,
// fall back to FirstFree.
type LuaStrategy struct {
	mu      sync.Mutex
	l       *lua.LState
	fn      *lua.LFunction
	timeout time.Duration
}

func NewLuaStrategy(source string) (*LuaStrategy, error) {
	l := lua.NewState()
	if err := l.DoString(source); err != nil {
		l.Close()
		return nil, fmt.Errorf("game: load strategy: %w", err)
	}
	return bindLua(l)
}

func LoadLuaStrategy(path string) (*LuaStrategy, error) {
	l := lua.NewState()
	if err := l.DoFile(path); err != nil {
		l.Close()
		return nil, fmt.Errorf("game: load strategy %s: %w", path, err)
	}
	return bindLua(l)
}

func bindLua(l *lua.LState) (*LuaStrategy, error) {
	fn, ok := l.GetGlobal(luaEntryPoint).(*lua.LFunction)
	if !ok {
		l.Close()
		return nil, ErrNoEntryPoint
	}
	return &LuaStrategy{l: l, fn: fn, timeout: DefaultLuaTimeout}, nil
}

func (s *LuaStrategy) Choose(b Board, mark Mark) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cells := s.l.NewTable()
	for _, code := range b.Snapshot(mark) {
		cells.Append(lua.LNumber(code))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.l.SetContext(ctx)
	defer s.l.RemoveContext()
	if err := s.l.CallByParam(lua.P{Fn: s.fn, NRet: 1, Protect: true}, cells); err != nil {
		log.Warn().Err(err).Msg("lua strategy failed, using first free cell")
		return FirstFree{}.Choose(b, mark)
	}
	ret := s.l.Get(-1)
	s.l.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok || n < 1 || n > Size || !IsValidMove(b, uint8(n)) {
		log.Warn().Str("answer", ret.String()).Msg("lua strategy answered an unusable cell")
		return FirstFree{}.Choose(b, mark)
	}
	return uint8(n)
}

func (s *LuaStrategy) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l.Close()
}
