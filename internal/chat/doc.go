// Package chat defines the conversation data model shared by the streaming
// engine: conversations, messages, stream records, and the closed Part
// variant (text, reasoning, tool-invocation) that assistant replies are
// built from.
package chat
