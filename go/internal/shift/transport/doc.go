// Package transport is the local channel between shift-interval processes.
//
// A coordinator binds a unix socket path with Listen; participants reach it
// with Dial. Each connection carries websocket frames holding one JSON
// events.Envelope each, so messages are typed, delivered in order per
// connection, and never redelivered. A disconnect is terminal for a
// connection.
//
// Address ownership is arbitrated by an exclusive file lock on
// "<address>.lock". The lock dies with its process, which lets the next
// coordinator reclaim a socket file left behind by a crash.
package transport
