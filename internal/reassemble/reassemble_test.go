package reassemble

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/chatbroker/internal/sse"
)

func intPtr(i int) *int { return &i }

func toolChunk(id string, idx *int, callID, name, args string) Chunk {
	return Chunk{
		ID: id,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{
					Index:    idx,
					ID:       callID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func textChunk(id, text string) Chunk {
	return Chunk{ID: id, Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}}}}
}

func collect(t *testing.T, body string) ([]Chunk, error) {
	t.Helper()
	var out []Chunk
	for c, err := range Stream(sse.Frames(strings.NewReader(body))) {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

func TestPush_MergesFragmentsOfOneResponse(t *testing.T) {
	var r Reassembler
	if out := r.Push(toolChunk("resp-1", nil, "c1", "f", `{"x":`)); len(out) != 0 {
		t.Fatalf("first fragment must be buffered, got %d", len(out))
	}
	if out := r.Push(toolChunk("resp-1", nil, "", "", `5}`)); len(out) != 0 {
		t.Fatalf("second fragment must be buffered, got %d", len(out))
	}
	out := r.Finish()
	if len(out) != 1 {
		t.Fatalf("expected one completion, got %d", len(out))
	}
	tc := out[0].Choices[0].Delta.ToolCalls[0]
	if tc.Function.Arguments != `{"x":5}` || tc.Function.Name != "f" || tc.ID != "c1" {
		t.Fatalf("unexpected call %#v", tc)
	}
	if len(r.Finish()) != 0 {
		t.Fatal("finish must be idempotent")
	}
}

func TestPush_IDChangeFlushesPrevious(t *testing.T) {
	var r Reassembler
	var emitted []Chunk
	emitted = append(emitted, r.Push(toolChunk("resp-1", nil, "a", "fa", `{"a":`))...)
	emitted = append(emitted, r.Push(toolChunk("resp-1", nil, "a", "", `1}`))...)
	emitted = append(emitted, r.Push(toolChunk("resp-2", nil, "b", "fb", `{"b":`))...)
	if len(emitted) != 1 || emitted[0].ID != "resp-1" {
		t.Fatalf("expected resp-1 flushed on id change, got %d", len(emitted))
	}
	emitted = append(emitted, r.Push(toolChunk("resp-2", nil, "b", "", `2}`))...)
	emitted = append(emitted, r.Finish()...)
	if len(emitted) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(emitted))
	}
	want := map[string]string{"resp-1": `{"a":1}`, "resp-2": `{"b":2}`}
	for i, id := range []string{"resp-1", "resp-2"} {
		if emitted[i].ID != id {
			t.Fatalf("completion %d: id %s", i, emitted[i].ID)
		}
		if got := emitted[i].Choices[0].Delta.ToolCalls[0].Function.Arguments; got != want[id] {
			t.Fatalf("%s: arguments %q want %q", id, got, want[id])
		}
	}
}

func TestPush_NonToolChunksPassThroughImmediately(t *testing.T) {
	var r Reassembler
	r.Push(toolChunk("resp-1", nil, "c1", "f", `{`))
	out := r.Push(textChunk("resp-1", "hello"))
	if len(out) != 1 || out[0].Choices[0].Delta.Content != "hello" {
		t.Fatalf("text chunk must pass through, got %#v", out)
	}
	if p, ok := r.Pending(); !ok || p.Arguments() != "{" {
		t.Fatal("accumulation must survive an interleaved text chunk")
	}
}

func TestMerge_IsImmutable(t *testing.T) {
	first := toolChunk("resp-1", intPtr(0), "c1", "f", `{"x":`)
	p := NewPartial(first)
	q := p.Merge(toolChunk("resp-1", intPtr(0), "", "", `5}`))

	if p.Arguments() != `{"x":` {
		t.Fatalf("receiver mutated: %q", p.Arguments())
	}
	if q.Arguments() != `{"x":5}` {
		t.Fatalf("merged: %q", q.Arguments())
	}
	// Mutating the source chunk or an emitted copy must not leak into the partial
	first.Choices[0].Delta.ToolCalls[0].Function.Arguments = "tampered"
	*first.Choices[0].Delta.ToolCalls[0].Index = 9
	c := q.Chunk()
	c.Choices[0].Delta.ToolCalls[0].Function.Arguments = "tampered"
	if q.Arguments() != `{"x":5}` {
		t.Fatalf("aliasing leaked into partial: %q", q.Arguments())
	}
	if idx := q.Chunk().Choices[0].Delta.ToolCalls[0].Index; idx == nil || *idx != 0 {
		t.Fatal("index pointer aliased")
	}
	if q.ResponseID() != "resp-1" || q.FunctionName() != "f" || q.ChoiceIndex() != 0 {
		t.Fatalf("accessors: %s %s %d", q.ResponseID(), q.FunctionName(), q.ChoiceIndex())
	}
}

func TestMerge_ParallelCallsByIndex(t *testing.T) {
	p := NewPartial(toolChunk("resp-1", intPtr(0), "c0", "get_weather", `{"city":`))
	p = p.Merge(toolChunk("resp-1", intPtr(0), "", "", `"Oslo"}`))
	p = p.Merge(toolChunk("resp-1", intPtr(1), "c1", "get_time", `{"tz":`))
	p = p.Merge(toolChunk("resp-1", intPtr(1), "", "", `"CET"}`))

	calls := p.Chunk().Choices[0].Delta.ToolCalls
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Function.Name != "get_weather" || calls[0].Function.Arguments != `{"city":"Oslo"}` {
		t.Fatalf("call 0: %#v", calls[0])
	}
	if calls[1].Function.Name != "get_time" || calls[1].Function.Arguments != `{"tz":"CET"}` {
		t.Fatalf("call 1: %#v", calls[1])
	}
}

func TestMerge_MultipleCallsInOneDelta(t *testing.T) {
	c := Chunk{ID: "r", Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
		{Index: intPtr(0), ID: "a", Function: openai.FunctionCall{Name: "fa", Arguments: "{"}},
		{Index: intPtr(1), ID: "b", Function: openai.FunctionCall{Name: "fb", Arguments: "["}},
	}}}}}
	p := NewPartial(c)
	p = p.Merge(Chunk{ID: "r", Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
		{Index: intPtr(1), Function: openai.FunctionCall{Arguments: "]"}},
		{Index: intPtr(0), Function: openai.FunctionCall{Arguments: "}"}},
	}}}}})
	calls := p.Chunk().Choices[0].Delta.ToolCalls
	if calls[0].Function.Arguments != "{}" || calls[1].Function.Arguments != "[]" {
		t.Fatalf("unexpected %q %q", calls[0].Function.Arguments, calls[1].Function.Arguments)
	}
}

func TestMerge_FinishReasonCarried(t *testing.T) {
	p := NewPartial(toolChunk("r", intPtr(0), "c", "f", "{}"))
	fin := toolChunk("r", intPtr(0), "", "", "")
	fin.Choices[0].FinishReason = openai.FinishReasonToolCalls
	p = p.Merge(fin)
	if p.Chunk().Choices[0].FinishReason != openai.FinishReasonToolCalls {
		t.Fatal("finish reason lost")
	}
}

func TestStream_EndToEnd(t *testing.T) {
	body := strings.Join([]string{
		`data: {"id":"r1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"id":"c1","function":{"name":"f","arguments":"{\"x\":"}}]}}]}`,
		`data: {"id":"r1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"id":"c1","function":{"arguments":"5}"}}]}}]}`,
		`data: [DONE]`,
	}, "\n")
	out, err := collect(t, body)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(out))
	}
	tc := out[0].Choices[0].Delta.ToolCalls[0]
	if tc.Function.Name != "f" || tc.Function.Arguments != `{"x":5}` {
		t.Fatalf("unexpected %#v", tc)
	}
	var args map[string]int
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil || args["x"] != 5 {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
}

func TestStream_OrderAndPassThrough(t *testing.T) {
	body := strings.Join([]string{
		`: ping`,
		`data: {"id":"r0","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`data: {"id":"r1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"f","arguments":"{"}}]}}]}`,
		`data: {"id":"r1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"}"}}]}}]}`,
		`data: {"id":"r2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c2","function":{"name":"g","arguments":"[]"}}]}}]}`,
		`data: [DONE]`,
	}, "\n")
	out, err := collect(t, body)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(out))
	}
	if out[0].ID != "r0" || out[0].Choices[0].Delta.Content != "Hi" {
		t.Fatalf("first chunk %#v", out[0])
	}
	if out[1].ID != "r1" || out[1].Choices[0].Delta.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("second chunk %#v", out[1])
	}
	if out[2].ID != "r2" || out[2].Choices[0].Delta.ToolCalls[0].Function.Name != "g" {
		t.Fatalf("third chunk %#v", out[2])
	}
}

func TestStream_DecodeErrorDropsPending(t *testing.T) {
	body := strings.Join([]string{
		`data: {"id":"r1","choices":[{"index":0,"delta":{"tool_calls":[{"id":"c1","function":{"name":"f","arguments":"{"}}]}}]}`,
		`data: {broken`,
		`data: [DONE]`,
	}, "\n")
	out, err := collect(t, body)
	var de *sse.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("a truncated tool call must not be emitted, got %d", len(out))
	}
}
