// Package match owns the server's session slots and the per-session move
// state machine. A Table and its Engine are not safe for concurrent use; the
// server loop is their single owner.
package match
