// Package providerstub is a fake OAuth device-flow and chat provider for
// local runs and tests.
package providerstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Routes served by the stub.
const (
	DeviceCodePath = "/login/device/code"
	TokenPath      = "/login/oauth/access_token"
	ExchangePath   = "/copilot_internal/v2/token"
	ChatPath       = "/chat/completions"
	ModelsPath     = "/models"
)

// Stub is an in-memory provider. Zero values are usable defaults.
type Stub struct {
	// Model is listed by /models. Empty means "stub-model".
	Model string
	// PendingPolls is how many polls answer authorization_pending first.
	PendingPolls int
	// Deny makes polls answer access_denied.
	Deny bool
	// TokenTTL is the lifetime of exchanged tokens. Zero means 30 minutes.
	TokenTTL time.Duration
	// RejectChats is how many chat calls answer 401 before succeeding.
	RejectChats int

	AccessToken string

	DeviceCodes atomic.Int32
	Polls       atomic.Int32
	Exchanges   atomic.Int32
	Chats       atomic.Int32

	mu       sync.Mutex
	rejected int
	issued   map[string]bool
}

func (s *Stub) model() string {
	if s.Model == "" {
		return "stub-model"
	}
	return s.Model
}

func (s *Stub) accessToken() string {
	if s.AccessToken == "" {
		return "gho_stub_long_lived"
	}
	return s.AccessToken
}

// Handler returns the stub's routes.
func (s *Stub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DeviceCodePath, s.deviceCode)
	mux.HandleFunc(TokenPath, s.poll)
	mux.HandleFunc(ExchangePath, s.exchange)
	mux.HandleFunc(ChatPath, s.chat)
	mux.HandleFunc(ModelsPath, s.models)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Stub) deviceCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	n := s.DeviceCodes.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      fmt.Sprintf("dc-%d", n),
		"user_code":        "WDJB-MJHT",
		"verification_uri": "http://" + r.Host + "/device",
		"expires_in":       900,
		"interval":         1,
	})
}

func (s *Stub) poll(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "urn:ietf:params:oauth:grant-type:device_code" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	n := int(s.Polls.Add(1))
	switch {
	case s.Deny:
		writeJSON(w, http.StatusOK, map[string]string{"error": "access_denied"})
	case n <= s.PendingPolls:
		writeJSON(w, http.StatusOK, map[string]string{"error": "authorization_pending"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": s.accessToken(),
			"token_type":   "bearer",
			"scope":        r.PostForm.Get("scope"),
		})
	}
}

func (s *Stub) exchange(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Token "+s.accessToken() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	n := s.Exchanges.Add(1)
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	tok := fmt.Sprintf("tid=stub;exp=%d", n)
	s.mu.Lock()
	if s.issued == nil {
		s.issued = map[string]bool{}
	}
	s.issued[tok] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expires_at": time.Now().Add(ttl).Unix()})
}

// authorized checks the bearer token and consumes one scripted rejection.
func (s *Stub) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok || !s.issued[tok] {
		return false
	}
	if s.rejected < s.RejectChats {
		s.rejected++
		delete(s.issued, tok)
		return false
	}
	return true
}

func (s *Stub) models(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"message": "unauthorized"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   []map[string]any{{"id": s.model(), "object": "model", "owned_by": "stub"}},
	})
}

func (s *Stub) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := s.Chats.Add(1)
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"message": "token expired", "type": "invalid_request_error"}})
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"message": err.Error()}})
		return
	}
	id := fmt.Sprintf("chatcmpl-%d", n)
	reply := "echo: " + lastUserMessage(req.Messages)
	log.Debug().Str("id", id).Bool("stream", req.Stream).Int("tools", len(req.Tools)).Msg("stub chat")

	if !req.Stream {
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply}
		finish := openai.FinishReasonStop
		if len(req.Tools) > 0 && req.Tools[0].Function != nil {
			msg.Content = ""
			msg.ToolCalls = []openai.ToolCall{{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{
				Name: req.Tools[0].Function.Name, Arguments: toolArguments(req.Messages),
			}}}
			finish = openai.FinishReasonToolCalls
		}
		writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{
			ID: id, Object: "chat.completion", Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{Index: 0, Message: msg, FinishReason: finish}},
		})
		return
	}
	s.stream(w, id, req, reply)
}

// stream writes the reply word by word, then a tool call for the first
// offered tool with its arguments split over three chunks.
func (s *Stub) stream(w http.ResponseWriter, id string, req openai.ChatCompletionRequest, reply string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	send := func(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) {
		chunk := openai.ChatCompletionStreamResponse{
			ID: id, Object: "chat.completion.chunk", Model: req.Model,
			Choices: []openai.ChatCompletionStreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
		b, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}
	fmt.Fprint(w, ": stub stream\n\n")

	words := strings.SplitAfter(reply, " ")
	for i, word := range words {
		d := openai.ChatCompletionStreamChoiceDelta{Content: word}
		if i == 0 {
			d.Role = openai.ChatMessageRoleAssistant
		}
		send(d, "")
	}
	if len(req.Tools) > 0 && req.Tools[0].Function != nil {
		args := toolArguments(req.Messages)
		third := len(args) / 3
		parts := []string{args[:third], args[third : 2*third], args[2*third:]}
		idx := 0
		for i, p := range parts {
			tc := openai.ToolCall{Index: &idx, Function: openai.FunctionCall{Arguments: p}}
			if i == 0 {
				tc.ID = "call_1"
				tc.Type = openai.ToolTypeFunction
				tc.Function.Name = req.Tools[0].Function.Name
			}
			var finish openai.FinishReason
			if i == len(parts)-1 {
				finish = openai.FinishReasonToolCalls
			}
			send(openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{tc}}, finish)
		}
	} else {
		send(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReasonStop)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func lastUserMessage(msgs []openai.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func toolArguments(msgs []openai.ChatCompletionMessage) string {
	b, _ := json.Marshal(map[string]string{"input": lastUserMessage(msgs)})
	return string(b)
}
