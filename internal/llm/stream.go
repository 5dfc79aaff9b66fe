package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/chatbroker/internal/reassemble"
	"github.com/hyperifyio/chatbroker/internal/sse"
)

// Chunk is one reassembled completion chunk.
type Chunk = reassemble.Chunk

// StatusError is a non-2xx answer to a streaming request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: chat stream failed: status %d: %s", e.StatusCode, e.Body)
}

// Stream is an open streamed completion. It must be closed.
type Stream struct {
	body   io.ReadCloser
	chunks iter.Seq2[reassemble.Chunk, error]
	once   sync.Once
	err    error
}

// All yields reassembled chunks. The body is closed when iteration ends,
// including on early break. A Stream can be iterated once.
func (s *Stream) All() iter.Seq2[reassemble.Chunk, error] {
	return func(yield func(reassemble.Chunk, error) bool) {
		defer s.Close()
		for c, err := range s.chunks {
			if !yield(c, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the response body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() { s.err = s.body.Close() })
	return s.err
}

// StreamChatCompletion posts request with stream enabled and returns the
// reassembled chunk stream.
func (p *Provider) StreamChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (*Stream, error) {
	request.Stream = true
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	log.Debug().Str("model", request.Model).Int("messages", len(request.Messages)).Msg("chat stream opened")
	return &Stream{
		body:   resp.Body,
		chunks: reassemble.Stream(sse.Frames(resp.Body)),
	}, nil
}
