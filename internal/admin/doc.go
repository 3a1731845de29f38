// Package admin serves the operator HTTP API next to the match listener:
// health, readiness, prometheus metrics, a live session table, recent
// history and a websocket spectator feed.
package admin
