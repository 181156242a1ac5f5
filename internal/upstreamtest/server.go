// Package upstreamtest provides a scriptable OpenAI-compatible provider for
// tests of the upstream client, the orchestrator and the HTTP handlers.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Server is a fake chat-completions provider.
// Responses are scripted per model; each model has a queue that is consumed
// in order, with the last entry repeating once the queue is down to one.
type Server struct {
	server *httptest.Server

	mu       sync.Mutex
	byModel  map[string][]Response
	fallback *Response
	requests []Request
}

// Response defines one scripted provider response.
type Response struct {
	StatusCode int
	Body       interface{}
	Delay      time.Duration
	Headers    map[string]string

	// StreamChunks switches the response to SSE. Each chunk is sent as a
	// "data:" line; chunks starting with ":" are sent verbatim as comments.
	StreamChunks []string

	// ChunkDelay is slept between stream chunks.
	ChunkDelay time.Duration

	// OmitDone suppresses the trailing "data: [DONE]" line.
	OmitDone bool

	// Hang keeps the stream open after the chunks until the client goes away.
	Hang bool
}

// Request is what the server recorded about one inbound call.
type Request struct {
	Model         string
	Stream        bool
	Authorization string
	Body          map[string]interface{}
}

// NewServer starts a fake provider.
func NewServer() *Server {
	s := &Server{byModel: make(map[string][]Response)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s
}

// URL returns the base URL to configure as the provider endpoint.
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// Enqueue appends scripted responses for model.
func (s *Server) Enqueue(model string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byModel[model] = append(s.byModel[model], responses...)
}

// SetDefault sets the response for models with nothing scripted.
func (s *Server) SetDefault(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &r
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns the number of requests received.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// ModelsRequested returns the model of every request in arrival order.
func (s *Server) ModelsRequested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	models := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		models = append(models, r.Model)
	}
	return models
}

func (s *Server) next(model string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.byModel[model]
	switch {
	case len(queue) > 1:
		s.byModel[model] = queue[1:]
		return queue[0], true
	case len(queue) == 1:
		return queue[0], true
	case s.fallback != nil:
		return *s.fallback, true
	}
	return Response{}, false
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	model, _ := body["model"].(string)
	stream, _ := body["stream"].(bool)

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Model:         model,
		Stream:        stream,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	s.mu.Unlock()

	response, ok := s.next(model)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody(http.StatusNotFound, fmt.Sprintf("model not found: %s", model)))
		return
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if len(response.StreamChunks) > 0 || response.Hang {
		s.handleStream(w, r, response)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, response.Body)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, response Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	for _, chunk := range response.StreamChunks {
		if strings.HasPrefix(chunk, ":") {
			fmt.Fprintf(w, "%s\n\n", chunk)
		} else {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		flusher.Flush()

		if response.ChunkDelay > 0 {
			select {
			case <-time.After(response.ChunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}

	if response.Hang {
		<-r.Context().Done()
		return
	}

	if !response.OmitDone {
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch v := body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Completion builds a successful chat completion response.
func Completion(content string) Response {
	return Response{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"id":     "chatcmpl-123",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]interface{}{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]interface{}{
				"prompt_tokens":     10,
				"completion_tokens": 20,
				"total_tokens":      30,
			},
		},
	}
}

// Stream builds a streaming response that sends one delta chunk per piece
// followed by a usage chunk.
func Stream(pieces ...string) Response {
	chunks := make([]string, 0, len(pieces)+1)
	for _, p := range pieces {
		chunks = append(chunks, DeltaChunk(p))
	}
	chunks = append(chunks, UsageChunk(10, 20))
	return Response{StreamChunks: chunks}
}

// DeltaChunk returns one SSE data payload carrying a content delta.
func DeltaChunk(delta string) string {
	chunk := map[string]interface{}{
		"id":     "chatcmpl-123",
		"object": "chat.completion.chunk",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]interface{}{"content": delta}},
		},
	}
	data, _ := json.Marshal(chunk)
	return string(data)
}

// UsageChunk returns the final SSE data payload carrying token usage.
func UsageChunk(prompt, completion int) string {
	chunk := map[string]interface{}{
		"id":      "chatcmpl-123",
		"object":  "chat.completion.chunk",
		"choices": []map[string]interface{}{},
		"usage": map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		},
	}
	data, _ := json.Marshal(chunk)
	return string(data)
}

// ErrorChunk returns an SSE data payload carrying a mid-stream error.
func ErrorChunk(code int, message string) string {
	data, _ := json.Marshal(errorBody(code, message))
	return string(data)
}

// Error builds an error response with an OpenAI-style error envelope.
func Error(status int, message string) Response {
	return Response{StatusCode: status, Body: errorBody(status, message)}
}

// RateLimited builds a 429 response with a Retry-After header.
func RateLimited(retryAfter int) Response {
	r := Error(http.StatusTooManyRequests, "Rate limit exceeded")
	r.Headers = map[string]string{"Retry-After": fmt.Sprintf("%d", retryAfter)}
	return r
}

func errorBody(code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
		},
	}
}
