// Package model abstracts the language model behind a typed streaming
// contract: text, reasoning, tool call, done, and error events.
//
// OpenAIProvider speaks any OpenAI-compatible API; ScriptedProvider replays
// canned rounds for tests. Reasoning is extracted from <think> delimited
// spans in the streamed text.
package model
