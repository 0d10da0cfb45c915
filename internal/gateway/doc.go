// Package gateway wires the assist-gateway server together.
//
// # Endpoints
//
//	GET    /api/conversations                     list conversations
//	POST   /api/conversations                     create a conversation
//	DELETE /api/conversations/{id}                delete (aborts any running turn)
//	POST   /api/conversations/{id}/archive        archive or restore
//	GET    /api/conversations/{id}/messages       message history
//	POST   /api/conversations/{id}/messages       send a message, stream the reply (SSE)
//	GET    /api/conversations/{id}/stream         re-attach after reconnect (SSE)
//	POST   /api/conversations/{id}/stop           abort the running turn
//	GET    /health                                liveness
//	GET    /health/ready                          readiness (store reachable)
//
// # Streaming
//
// Generation output is Server-Sent Events. Each event's name is its part
// type (text, reasoning, tool-invocation) and its data is the part's JSON
// wire shape. A terminal done event closes every stream. Reconnecting
// clients GET the stream endpoint with the number of events they have
// already processed as ?offset=N and receive exactly the remainder. They
// may also send ?last_message_id=<id>; when it matches the conversation's
// persisted tail, a finished turn is not replayed.
package gateway
