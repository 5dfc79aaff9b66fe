package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
	// maxLineBytes bounds a single line; tool-call argument chunks can be long.
	maxLineBytes = 1 << 20
)

// ErrUnexpectedEOF is returned when the body ends before [DONE].
var ErrUnexpectedEOF = errors.New("sse: stream ended without [DONE]")

// Reader turns a line-oriented stream into frames. It is forward-only and
// cannot be restarted. After End, a decode error, or a read error, every
// further Next returns io.EOF.
type Reader struct {
	sc   *bufio.Scanner
	line int
	done bool
	// AllowEOF treats a body that ends without [DONE] as a clean End.
	AllowEOF bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Next returns the frame for the next line.
func (r *Reader) Next() (Frame, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.sc.Scan() {
		r.done = true
		if err := r.sc.Err(); err != nil {
			return nil, err
		}
		if r.AllowEOF {
			return End{}, nil
		}
		return nil, ErrUnexpectedEOF
	}
	r.line++
	f, err := parseLine(r.sc.Text(), r.line)
	if err != nil {
		r.done = true
		return nil, err
	}
	if _, ok := f.(End); ok {
		r.done = true
	}
	return f, nil
}

func parseLine(line string, n int) (Frame, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
		return Ignored{}, nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		// id:, retry: and unknown fields carry nothing for us.
		return Ignored{}, nil
	}
	data := strings.TrimPrefix(line, dataPrefix)
	data = strings.TrimPrefix(data, " ")
	if strings.TrimSpace(data) == doneMarker {
		return End{}, nil
	}
	var chunk Content
	if err := json.Unmarshal([]byte(data), &chunk.Chunk); err != nil {
		return nil, &DecodeError{Line: n, Data: data, Err: err}
	}
	return chunk, nil
}

// Frames yields frames from r lazily. Iteration stops after End or the
// first error, which is yielded with a nil frame.
func Frames(r io.Reader) iter.Seq2[Frame, error] {
	rd := NewReader(r)
	return rd.All()
}

// All yields the remaining frames of rd.
func (r *Reader) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(f, nil) {
				return
			}
			if _, ok := f.(End); ok {
				return
			}
		}
	}
}
