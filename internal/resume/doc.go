// Package resume resolves reconnecting clients against the stream record
// log and the active-session registry.
//
// A reconnect lands in one of three states: nothing to replay, a live
// session to re-attach to at the client's offset, or a recently finished
// turn whose final message is replayed whole. The client's last known
// message id suppresses the finished replay when it already holds that
// message; a freshness window guards clients that do not report one.
package resume
