package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"
)

func collect(t *testing.T, body string) ([]Frame, error) {
	t.Helper()
	var out []Frame
	for f, err := range Frames(strings.NewReader(body)) {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func TestFrames_Classification(t *testing.T) {
	body := strings.Join([]string{
		"",
		": keep-alive",
		"event: message",
		`data: {"id":"r1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		"id: 7",
		`data:{"id":"r1","choices":[{"index":0,"delta":{"content":"lo"}}]}` + "\r",
		"data: [DONE]",
		`data: {"id":"after-done"}`,
	}, "\n")
	frames, err := collect(t, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 7 {
		t.Fatalf("expected 7 frames, got %d", len(frames))
	}
	for _, i := range []int{0, 1, 2, 4} {
		if _, ok := frames[i].(Ignored); !ok {
			t.Fatalf("frame %d: expected Ignored, got %T", i, frames[i])
		}
	}
	c, ok := frames[3].(Content)
	if !ok || c.Chunk.ID != "r1" || c.Chunk.Choices[0].Delta.Content != "Hel" {
		t.Fatalf("frame 3: unexpected %#v", frames[3])
	}
	c, ok = frames[5].(Content)
	if !ok || c.Chunk.Choices[0].Delta.Content != "lo" {
		t.Fatalf("frame 5: unexpected %#v", frames[5])
	}
	if _, ok := frames[6].(End); !ok {
		t.Fatalf("frame 6: expected End, got %T", frames[6])
	}
}

func TestFrames_ToolCallChunk(t *testing.T) {
	body := `data: {"id":"r1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","type":"function","function":{"name":"f","arguments":"{\"x\":"}}]}}]}` + "\ndata: [DONE]\n"
	frames, err := collect(t, body)
	if err != nil {
		t.Fatal(err)
	}
	c := frames[0].(Content)
	tc := c.Chunk.Choices[0].Delta.ToolCalls[0]
	if tc.ID != "c1" || tc.Function.Name != "f" || tc.Function.Arguments != `{"x":` {
		t.Fatalf("unexpected tool call %#v", tc)
	}
	if tc.Index == nil || *tc.Index != 0 {
		t.Fatalf("expected index 0, got %v", tc.Index)
	}
}

func TestFrames_DecodeErrorPropagates(t *testing.T) {
	body := "data: {\"id\":\"r1\",\"choices\":[]}\ndata: {not json\ndata: [DONE]\n"
	frames, err := collect(t, body)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Line != 2 {
		t.Fatalf("expected line 2, got %d", de.Line)
	}
	if len(frames) != 1 {
		t.Fatalf("expected the frame before the failure only, got %d", len(frames))
	}
}

func TestReader_StopsAfterEnd(t *testing.T) {
	r := NewReader(strings.NewReader("data: [DONE]\ndata: {}\n"))
	f, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(End); !ok {
		t.Fatalf("expected End, got %T", f)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after End, got %v", err)
	}
}

func TestReader_MissingDone(t *testing.T) {
	_, err := collect(t, "data: {\"id\":\"r1\"}\n")
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}

	r := NewReader(strings.NewReader("data: {\"id\":\"r1\"}\n"))
	r.AllowEOF = true
	var last Frame
	for f, err := range r.All() {
		if err != nil {
			t.Fatalf("unexpected %v", err)
		}
		last = f
	}
	if _, ok := last.(End); !ok {
		t.Fatalf("expected synthetic End, got %T", last)
	}
}

func TestReader_LongLine(t *testing.T) {
	args := strings.Repeat("a", 200*1024)
	body := `data: {"id":"r1","choices":[{"index":0,"delta":{"content":"` + args + `"}}]}` + "\ndata: [DONE]\n"
	frames, err := collect(t, body)
	if err != nil {
		t.Fatalf("long line: %v", err)
	}
	if got := frames[0].(Content).Chunk.Choices[0].Delta.Content; len(got) != len(args) {
		t.Fatalf("content truncated: %d", len(got))
	}
}

func TestFrames_EarlyBreak(t *testing.T) {
	n := 0
	for range Frames(strings.NewReader("\n\n\n\ndata: [DONE]\n")) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2 frames, got %d", n)
	}
}

func TestDecodeError_MessageKeepsRuneBoundary(t *testing.T) {
	data := strings.Repeat("a", 119) + "é" + "tail"
	msg := (&DecodeError{Line: 3, Data: data, Err: errors.New("bad")}).Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("message splits a rune: %q", msg)
	}
	if !strings.Contains(msg, strings.Repeat("a", 119)+"...") {
		t.Fatalf("unexpected message %q", msg)
	}
}
