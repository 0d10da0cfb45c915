// ABOUTME: Splits streamed model text into answer and reasoning events
// ABOUTME: Reasoning is delimited by <think>...</think> tags, possibly split across chunks

package model

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// reasoningSplitter separates <think> delimited reasoning from answer text
// in a streamed sequence of content chunks. Tags may arrive split across
// chunk boundaries.
type reasoningSplitter struct {
	inThink bool
	buf     string
}

// Feed consumes one content chunk and returns the events it completes.
func (r *reasoningSplitter) Feed(chunk string) []Event {
	r.buf += chunk
	var events []Event

	for {
		tag := thinkOpen
		eventType := EventText
		if r.inThink {
			tag = thinkClose
			eventType = EventReasoning
		}

		idx := strings.Index(r.buf, tag)
		if idx >= 0 {
			if idx > 0 {
				events = append(events, Event{Type: eventType, Text: r.buf[:idx]})
			}
			r.buf = r.buf[idx+len(tag):]
			r.inThink = !r.inThink
			continue
		}

		// No full tag. Hold back any trailing partial tag prefix so a tag
		// split across chunks is not emitted as content.
		keep := partialTagSuffix(r.buf, tag)
		emit := r.buf[:len(r.buf)-keep]
		if emit != "" {
			events = append(events, Event{Type: eventType, Text: emit})
			r.buf = r.buf[len(emit):]
		}
		return events
	}
}

// Flush emits whatever is buffered, including a held-back partial tag.
func (r *reasoningSplitter) Flush() []Event {
	if r.buf == "" {
		return nil
	}
	eventType := EventText
	if r.inThink {
		eventType = EventReasoning
	}
	ev := Event{Type: eventType, Text: r.buf}
	r.buf = ""
	return []Event{ev}
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialTagSuffix(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
