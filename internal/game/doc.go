// Package game holds the 3x3 board, outcome evaluation and counter-move
// strategies shared by the match engine and the client.
package game
