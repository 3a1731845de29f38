package game

import (
	"fmt"
	"io"
)

// Render draws the board with cell numbers in empty squares.
func Render(w io.Writer, b Board) error {
	for row := 0; row < 3; row++ {
		cells := make([]any, 3)
		for col := 0; col < 3; col++ {
			i := row*3 + col
			if b[i] == Empty {
				cells[col] = fmt.Sprint(i + 1)
			} else {
				cells[col] = b[i].String()
			}
		}
		if _, err := fmt.Fprintf(w, " %s | %s | %s\n", cells...); err != nil {
			return err
		}
		if row < 2 {
			if _, err := io.WriteString(w, "---+---+---\n"); err != nil {
				return err
			}
		}
	}
	return nil
}
