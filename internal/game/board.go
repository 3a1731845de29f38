package game

import (
	"errors"
	"fmt"
)

const Size = 9

var (
	ErrInvalidChoice = errors.New("game: invalid choice")
	ErrOccupied      = errors.New("game: cell occupied")
	ErrIllegalBoard  = errors.New("game: illegal board")
)

// Mark is the content of one cell.
type Mark uint8

const (
	Empty Mark = iota
	X
	O
)

// Opponent returns the other player's mark. Empty has no opponent.
func (m Mark) Opponent() Mark {
	switch m {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return " "
	}
}

// Outcome is a board evaluated from one player's perspective.
type Outcome int

const (
	Ongoing Outcome = iota
	Win
	Lose
	Draw
)

func (o Outcome) String() string {
	switch o {
	case Ongoing:
		return "ongoing"
	case Win:
		return "win"
	case Lose:
		return "lose"
	case Draw:
		return "draw"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Terminal reports whether the game is over.
func (o Outcome) Terminal() bool {
	return o != Ongoing
}

// Board is row-major. Choice c (1-9) addresses index c-1,
// i.e. row (c-1)/3 and column (c-1)%3.
type Board [Size]Mark

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// IsValidMove reports whether choice names an empty cell.
func IsValidMove(b Board, choice uint8) bool {
	return choice >= 1 && choice <= Size && b[choice-1] == Empty
}

// Place marks the cell named by choice.
func (b *Board) Place(choice uint8, m Mark) error {
	if choice < 1 || choice > Size {
		return fmt.Errorf("%w: %d", ErrInvalidChoice, choice)
	}
	if b[choice-1] != Empty {
		return fmt.Errorf("%w: %d", ErrOccupied, choice)
	}
	b[choice-1] = m
	return nil
}

func (b Board) Count(m Mark) int {
	n := 0
	for _, c := range b {
		if c == m {
			n++
		}
	}
	return n
}

func (b Board) Full() bool {
	return b.Count(Empty) == 0
}

// Moves is the number of occupied cells.
func (b Board) Moves() int {
	return Size - b.Count(Empty)
}

func (b Board) hasLine(m Mark) bool {
	for _, l := range lines {
		if b[l[0]] == m && b[l[1]] == m && b[l[2]] == m {
			return true
		}
	}
	return false
}

// Evaluate scores the board for mark. A line owned by mark wins before the
// opponent's lines are considered.
func Evaluate(b Board, mark Mark) Outcome {
	switch {
	case b.hasLine(mark):
		return Win
	case b.hasLine(mark.Opponent()):
		return Lose
	case b.Full():
		return Draw
	default:
		return Ongoing
	}
}

// ToMove returns whose turn it is on a legal board; X always opens.
func (b Board) ToMove() Mark {
	if b.Count(X) > b.Count(O) {
		return O
	}
	return X
}

// Legal reports whether the board could arise from alternating play with X first.
func (b Board) Legal() error {
	for i, c := range b {
		if c > O {
			return fmt.Errorf("%w: cell %d holds %d", ErrIllegalBoard, i+1, c)
		}
	}
	x, o := b.Count(X), b.Count(O)
	if diff := x - o; diff != 0 && diff != 1 {
		return fmt.Errorf("%w: x=%d o=%d", ErrIllegalBoard, x, o)
	}
	// play stops at the first line, so its owner made the last move
	xLine, oLine := b.hasLine(X), b.hasLine(O)
	switch {
	case xLine && oLine:
		return fmt.Errorf("%w: both marks own a line", ErrIllegalBoard)
	case xLine && x != o+1:
		return fmt.Errorf("%w: x line with x=%d o=%d", ErrIllegalBoard, x, o)
	case oLine && x != o:
		return fmt.Errorf("%w: o line with x=%d o=%d", ErrIllegalBoard, x, o)
	}
	return nil
}

// Snapshot codes, relative to the viewer.
const (
	CodeEmpty    uint8 = 0
	CodeMine     uint8 = 1
	CodeOpponent uint8 = 2
)

// FromSnapshot rebuilds a board from cell codes written by viewer.
func FromSnapshot(cells [Size]uint8, viewer Mark) (Board, error) {
	var b Board
	for i, code := range cells {
		switch code {
		case CodeEmpty:
		case CodeMine:
			b[i] = viewer
		case CodeOpponent:
			b[i] = viewer.Opponent()
		default:
			return Board{}, fmt.Errorf("%w: cell %d code %d", ErrIllegalBoard, i+1, code)
		}
	}
	return b, nil
}

// Snapshot encodes the board from viewer's perspective.
func (b Board) Snapshot(viewer Mark) [Size]uint8 {
	var out [Size]uint8
	for i, c := range b {
		switch c {
		case viewer:
			out[i] = CodeMine
		case Empty:
			out[i] = CodeEmpty
		default:
			out[i] = CodeOpponent
		}
	}
	return out
}
