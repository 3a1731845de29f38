package game

// Strategy picks the next cell (1-9) for mark. It returns 0 when the board is full.
type Strategy interface {
	Choose(b Board, mark Mark) uint8
}

// FirstFree plays the first empty cell in row-major order.
type FirstFree struct{}

func (FirstFree) Choose(b Board, _ Mark) uint8 {
	for i, c := range b {
		if c == Empty {
			return uint8(i + 1)
		}
	}
	return 0
}

// ChooseMove is the default counter-move.
func ChooseMove(b Board) uint8 {
	return FirstFree{}.Choose(b, O)
}
