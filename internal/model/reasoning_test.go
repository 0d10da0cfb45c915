// ABOUTME: Tests for the reasoning tag splitter
// ABOUTME: Covers tags split across chunk boundaries and unterminated spans

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// collect runs chunks through a splitter and returns (text, reasoning).
func collect(chunks ...string) (string, string) {
	r := &reasoningSplitter{}
	var text, reasoning string
	apply := func(events []Event) {
		for _, ev := range events {
			switch ev.Type {
			case EventText:
				text += ev.Text
			case EventReasoning:
				reasoning += ev.Text
			}
		}
	}
	for _, chunk := range chunks {
		apply(r.Feed(chunk))
	}
	apply(r.Flush())
	return text, reasoning
}

func TestReasoningSplitter_PlainText(t *testing.T) {
	text, reasoning := collect("hello ", "world")
	assert.Equal(t, "hello world", text)
	assert.Empty(t, reasoning)
}

func TestReasoningSplitter_SingleChunk(t *testing.T) {
	text, reasoning := collect("<think>step one</think>the answer")
	assert.Equal(t, "the answer", text)
	assert.Equal(t, "step one", reasoning)
}

func TestReasoningSplitter_TagSplitAcrossChunks(t *testing.T) {
	text, reasoning := collect("before <th", "ink>deep", " thought</th", "ink> after")
	assert.Equal(t, "before  after", text)
	assert.Equal(t, "deep thought", reasoning)
}

func TestReasoningSplitter_UnterminatedThinkFlushesAsReasoning(t *testing.T) {
	text, reasoning := collect("<think>never closed")
	assert.Empty(t, text)
	assert.Equal(t, "never closed", reasoning)
}

func TestReasoningSplitter_AngleBracketNotATag(t *testing.T) {
	text, reasoning := collect("a < b and a <t", "hree> c")
	assert.Equal(t, "a < b and a <three> c", text)
	assert.Empty(t, reasoning)
}

func TestReasoningSplitter_MultipleSpans(t *testing.T) {
	text, reasoning := collect("<think>one</think>A<think>two</think>B")
	assert.Equal(t, "AB", text)
	assert.Equal(t, "onetwo", reasoning)
}
