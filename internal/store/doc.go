// Package store provides persistence for conversations, messages, and the
// append-only stream record log used for resumption.
//
// The Store interface is what the engine consumes; SQLiteStore is the
// default implementation. Stream records exist purely so a reconnecting
// client can discover whether anything was generated after its last known
// message.
package store
