// Package session manages in-flight assistant generations.
//
// A conversation has at most one running Session. The Session buffers every
// emitted part in order, so a subscriber attaching at any offset receives
// exactly the events an original subscriber saw from that offset on. The
// producer never blocks on consumers: each subscriber runs its own pump over
// the shared buffer.
//
// The Manager enforces the one-session invariant and records stream ids
// before generation starts. The Runner bridges a model provider into a
// session, dispatching tool calls concurrently and chaining rounds until the
// model produces a plain reply.
package session
