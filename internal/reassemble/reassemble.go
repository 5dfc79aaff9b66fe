package reassemble

import (
	"iter"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatbroker/internal/sse"
)

// Reassembler buffers tool-call deltas of at most one response id at a
// time. Chunks without tool calls pass straight through.
type Reassembler struct {
	pending *Partial
}

// Pending returns the in-progress accumulation, if any.
func (r *Reassembler) Pending() (Partial, bool) {
	if r.pending == nil {
		return Partial{}, false
	}
	return *r.pending, true
}

// Push feeds one chunk and returns what is ready to emit, in order.
func (r *Reassembler) Push(c Chunk) []Chunk {
	if !hasToolCall(c) {
		return []Chunk{c}
	}
	if r.pending == nil {
		p := NewPartial(c)
		r.pending = &p
		return nil
	}
	if r.pending.ResponseID() == c.ID {
		p := r.pending.Merge(c)
		r.pending = &p
		return nil
	}
	// Different response: flush the previous accumulation first.
	out := []Chunk{r.pending.Chunk()}
	log.Debug().Str("response_id", r.pending.ResponseID()).Str("next_id", c.ID).Msg("tool call boundary")
	p := NewPartial(c)
	r.pending = &p
	return out
}

// Finish flushes a pending accumulation at end of stream.
func (r *Reassembler) Finish() []Chunk {
	if r.pending == nil {
		return nil
	}
	out := []Chunk{r.pending.Chunk()}
	r.pending = nil
	return out
}

// Stream folds a frame sequence into completion chunks. Ignored frames are
// dropped, End flushes the pending tool call and stops. On a frame error the
// pending accumulation is discarded and the error is yielded.
func Stream(frames iter.Seq2[sse.Frame, error]) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var r Reassembler
		for f, err := range frames {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			switch f := f.(type) {
			case sse.Ignored:
			case sse.Content:
				for _, c := range r.Push(f.Chunk) {
					if !yield(c, nil) {
						return
					}
				}
			case sse.End:
				for _, c := range r.Finish() {
					if !yield(c, nil) {
						return
					}
				}
				return
			}
		}
		for _, c := range r.Finish() {
			if !yield(c, nil) {
				return
			}
		}
	}
}
