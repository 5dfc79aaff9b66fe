// Package sse decodes an OpenAI-style server-sent event stream into frames.
package sse

import (
	"fmt"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// Frame is one decoded line: Ignored, Content, or End.
type Frame interface {
	frame()
}

// Ignored is a blank line, an event: line, a comment, or any other
// non-data field.
type Ignored struct{}

// Content carries one decoded completion chunk.
type Content struct {
	Chunk openai.ChatCompletionStreamResponse
}

// End is the [DONE] sentinel. Nothing is read after it.
type End struct{}

func (Ignored) frame() {}
func (Content) frame() {}
func (End) frame()     {}

// DecodeError reports a data line whose payload is not a completion chunk.
type DecodeError struct {
	Line int
	Data string
	Err  error
}

func (e *DecodeError) Error() string {
	data := e.Data
	if n := 120; len(data) > n {
		for n > 0 && !utf8.RuneStart(data[n]) {
			n--
		}
		data = data[:n] + "..."
	}
	return fmt.Sprintf("sse: line %d: decode chunk %q: %v", e.Line, data, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
