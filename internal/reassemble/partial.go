// Package reassemble folds fragmented tool-call deltas of a streamed chat
// completion back into complete function invocations.
package reassemble

import (
	openai "github.com/sashabaranov/go-openai"
)

// Chunk is one streamed completion chunk as sent by the provider.
type Chunk = openai.ChatCompletionStreamResponse

// Partial is the accumulated tool-call state of one response. It is an
// immutable value: Merge returns a new Partial and never touches the
// receiver or the merged chunk.
type Partial struct {
	chunk Chunk
}

// NewPartial starts an accumulation from c. c is copied.
func NewPartial(c Chunk) Partial {
	return Partial{chunk: cloneChunk(c)}
}

// ResponseID is the id all merged chunks share.
func (p Partial) ResponseID() string { return p.chunk.ID }

// ChoiceIndex is the index of the first choice carrying a tool call.
func (p Partial) ChoiceIndex() int {
	if ch := p.firstCall(); ch != nil {
		return ch.Index
	}
	return 0
}

// FunctionName is the name of the first tool call.
func (p Partial) FunctionName() string {
	if ch := p.firstCall(); ch != nil {
		return ch.Delta.ToolCalls[0].Function.Name
	}
	return ""
}

// Arguments is the concatenated argument text of the first tool call.
func (p Partial) Arguments() string {
	if ch := p.firstCall(); ch != nil {
		return ch.Delta.ToolCalls[0].Function.Arguments
	}
	return ""
}

func (p Partial) firstCall() *openai.ChatCompletionStreamChoice {
	for i := range p.chunk.Choices {
		if len(p.chunk.Choices[i].Delta.ToolCalls) > 0 {
			return &p.chunk.Choices[i]
		}
	}
	return nil
}

// Chunk returns a copy of the accumulated chunk.
func (p Partial) Chunk() Chunk { return cloneChunk(p.chunk) }

// Merge appends the tool-call fragments of c. Calls are matched by choice
// index and then by tool-call index; a fragment without an index falls back
// to its call id, and finally to the most recent call of that choice. New
// characters are only ever appended to the arguments.
func (p Partial) Merge(c Chunk) Partial {
	out := cloneChunk(p.chunk)
	for _, in := range c.Choices {
		ci := findChoice(out.Choices, in.Index)
		if ci < 0 {
			out.Choices = append(out.Choices, cloneChoice(in))
			continue
		}
		dst := &out.Choices[ci]
		dst.Delta.Content += in.Delta.Content
		if in.FinishReason != "" {
			dst.FinishReason = in.FinishReason
		}
		for _, tc := range in.Delta.ToolCalls {
			ti := findCall(dst.Delta.ToolCalls, tc)
			if ti < 0 {
				dst.Delta.ToolCalls = append(dst.Delta.ToolCalls, cloneCall(tc))
				continue
			}
			dst.Delta.ToolCalls[ti] = mergeCall(dst.Delta.ToolCalls[ti], tc)
		}
	}
	return Partial{chunk: out}
}

func mergeCall(acc, in openai.ToolCall) openai.ToolCall {
	if acc.ID == "" {
		acc.ID = in.ID
	}
	if acc.Type == "" {
		acc.Type = in.Type
	}
	if acc.Function.Name == "" {
		acc.Function.Name = in.Function.Name
	}
	acc.Function.Arguments += in.Function.Arguments
	return acc
}

func findChoice(choices []openai.ChatCompletionStreamChoice, index int) int {
	for i := range choices {
		if choices[i].Index == index {
			return i
		}
	}
	return -1
}

func findCall(calls []openai.ToolCall, tc openai.ToolCall) int {
	if len(calls) == 0 {
		return -1
	}
	indexed := false
	if tc.Index != nil {
		for i := range calls {
			if calls[i].Index == nil {
				continue
			}
			indexed = true
			if *calls[i].Index == *tc.Index {
				return i
			}
		}
		if indexed {
			return -1
		}
	}
	if tc.ID != "" {
		for i := range calls {
			if calls[i].ID == tc.ID {
				return i
			}
		}
		// A fresh id without an index is a new call only if the last one already has an id.
		if calls[len(calls)-1].ID != "" {
			return -1
		}
	}
	return len(calls) - 1
}

func cloneChunk(c Chunk) Chunk {
	out := c
	if c.Choices != nil {
		out.Choices = make([]openai.ChatCompletionStreamChoice, len(c.Choices))
		for i, ch := range c.Choices {
			out.Choices[i] = cloneChoice(ch)
		}
	}
	return out
}

func cloneChoice(ch openai.ChatCompletionStreamChoice) openai.ChatCompletionStreamChoice {
	out := ch
	if ch.Delta.ToolCalls != nil {
		out.Delta.ToolCalls = make([]openai.ToolCall, len(ch.Delta.ToolCalls))
		for i, tc := range ch.Delta.ToolCalls {
			out.Delta.ToolCalls[i] = cloneCall(tc)
		}
	}
	if ch.Delta.FunctionCall != nil {
		fc := *ch.Delta.FunctionCall
		out.Delta.FunctionCall = &fc
	}
	return out
}

func cloneCall(tc openai.ToolCall) openai.ToolCall {
	out := tc
	if tc.Index != nil {
		i := *tc.Index
		out.Index = &i
	}
	return out
}

// hasToolCall reports whether any choice of c carries a tool-call delta.
func hasToolCall(c Chunk) bool {
	for _, ch := range c.Choices {
		if len(ch.Delta.ToolCalls) > 0 {
			return true
		}
	}
	return false
}
