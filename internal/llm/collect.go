package llm

import (
	"iter"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/chatbroker/internal/reassemble"
)

// Completion is a folded stream: the concatenated content and every
// complete tool call in arrival order.
type Completion struct {
	ID           string              `json:"id"`
	Content      string              `json:"content"`
	ToolCalls    []openai.ToolCall   `json:"tool_calls,omitempty"`
	FinishReason openai.FinishReason `json:"finish_reason,omitempty"`
}

// Collect drains chunks into a Completion. The first error stops the fold
// and is returned with what was collected so far.
func Collect(chunks iter.Seq2[reassemble.Chunk, error]) (Completion, error) {
	var (
		out Completion
		sb  strings.Builder
	)
	for c, err := range chunks {
		if err != nil {
			out.Content = sb.String()
			return out, err
		}
		if out.ID == "" {
			out.ID = c.ID
		}
		for _, ch := range c.Choices {
			sb.WriteString(ch.Delta.Content)
			out.ToolCalls = append(out.ToolCalls, ch.Delta.ToolCalls...)
			if ch.FinishReason != "" {
				out.FinishReason = ch.FinishReason
			}
		}
	}
	out.Content = sb.String()
	return out, nil
}
