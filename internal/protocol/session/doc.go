// Package session owns the per-session reliability primitives shared by the
// match server and the client.
//
// Ownership boundary:
// - sequence ladder classification (in-order, duplicate, out-of-order)
// - bounded retransmission of the last sent frame
// - reliability timeouts and re-dial backoff
//
// The ladder couples every request to exactly one reply: an in-order frame
// carrying sequence r is answered with r+1 and the next frame is expected at r+2.
// All arithmetic is modulo 256.
package session
