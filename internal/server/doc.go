// Package server runs the session multiplexer: an accept goroutine, one
// reader goroutine per connection and a discovery reader all hand events to
// a single loop goroutine that owns the session table.
package server
