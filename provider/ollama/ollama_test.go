// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// newTestProvider points an adapter at a fake engine.
func newTestProvider(server *httptest.Server) *Provider {
	return NewWithConfig(&Config{
		BaseURL:        server.URL,
		Timeout:        5 * time.Second,
		ProbeTimeout:   time.Second,
		MinMemoryBytes: 1, // never trips in tests
	})
}

func userTurn(text string) []model.Message {
	return []model.Message{model.NewUserMessage(text)}
}

// =============================================================================
// TRANSLATION TESTS
// =============================================================================

func TestTranslateMessages(t *testing.T) {
	messages := []model.Message{
		model.NewSystemMessage("Be brief"),
		model.NewUserMessage("Hello"),
		model.NewAssistantMessage("Hi"),
		model.NewToolMessage("ignored"),
	}

	wire := translateMessages(messages)

	if len(wire) != 3 {
		t.Fatalf("len = %d, want 3 (tool turn dropped)", len(wire))
	}
	if wire[0].Role != "system" || wire[0].Content != "Be brief" {
		t.Errorf("wire[0] = %+v", wire[0])
	}
	if wire[1].Role != "user" || wire[1].Content != "Hello" {
		t.Errorf("wire[1] = %+v", wire[1])
	}
	if wire[2].Role != "assistant" || wire[2].Content != "Hi" {
		t.Errorf("wire[2] = %+v", wire[2])
	}
}

func TestTranslateMessagesImages(t *testing.T) {
	msg := model.NewPartsMessage(model.RoleUser, []model.ContentPart{
		model.TextPart("What is this?"),
		model.ImagePart("iVBORw0KGgo=", "image/png"),
	})

	wire := translateMessages([]model.Message{msg})

	if len(wire) != 1 {
		t.Fatalf("len = %d, want 1", len(wire))
	}
	if wire[0].Content != "What is this?" {
		t.Errorf("Content = %q", wire[0].Content)
	}
	if len(wire[0].Images) != 1 {
		t.Errorf("Images length = %d, want 1", len(wire[0].Images))
	}
}

func TestTranslateOptionsDefaults(t *testing.T) {
	if opts := translateOptions(provider.DefaultConfig()); opts != nil {
		if opts.Temperature != 0.7 || opts.TopP != 0.9 {
			t.Errorf("opts = %+v", opts)
		}
	}
}

func TestMapDoneReason(t *testing.T) {
	tests := []struct {
		reason string
		want   provider.FinishReason
	}{
		{"stop", provider.FinishReasonStop},
		{"length", provider.FinishReasonMaxTokens},
		{"limit", provider.FinishReasonMaxTokens},
		{"", provider.FinishReasonStop},
		{"something_new", provider.FinishReasonStop},
	}

	for _, tc := range tests {
		if got := mapDoneReason(tc.reason); got != tc.want {
			t.Errorf("mapDoneReason(%q) = %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestMapEngineError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    provider.Kind
	}{
		{"model missing", 404, `model "nope" not found, try pulling it first`, provider.KindInvalidInput},
		{"context length", 400, "context length exceeded", provider.KindInvalidInput},
		{"oom", 500, "CUDA out of memory", provider.KindUnavailable},
		{"server", 500, "something broke", provider.KindServer},
		{"unknown code", 418, "weird new failure", provider.KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := mapEngineError(tc.status, tc.message)
			if got := provider.KindOf(err); got != tc.want {
				t.Errorf("kind = %v, want %v", got, tc.want)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Errorf("message dropped: %v", err)
			}
		})
	}
}

// =============================================================================
// GENERATE TESTS
// =============================================================================

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		if req.Model != "llama3.2" {
			t.Errorf("model = %q", req.Model)
		}

		json.NewEncoder(w).Encode(ChatResponse{
			Message:         Message{Role: "assistant", Content: "Hello there"},
			Done:            true,
			DoneReason:      "stop",
			EvalCount:       10,
			PromptEvalCount: 5,
			EvalDuration:    int64(time.Second),
			TotalDuration:   int64(2 * time.Second),
		})
	}))
	defer server.Close()

	p := newTestProvider(server)
	result, err := p.Generate(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Text != "Hello there" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.TokenCount != 10 {
		t.Errorf("TokenCount = %d, want 10", result.TokenCount)
	}
	if result.FinishReason != provider.FinishReasonStop {
		t.Errorf("FinishReason = %v", result.FinishReason)
	}
	if result.TokensPerSecond != 10.0 {
		t.Errorf("TokensPerSecond = %v, want 10.0", result.TokensPerSecond)
	}
	if result.Usage == nil || result.Usage.PromptTokens != 5 {
		t.Errorf("Usage = %+v", result.Usage)
	}
}

func TestGenerateRejectsCloudModel(t *testing.T) {
	p := New()
	_, err := p.Generate(context.Background(), userTurn("Hi"), "claude-sonnet-4-5", provider.DefaultConfig())
	if !provider.IsKind(err, provider.KindInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestGenerateEngineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(engineError{Error: `model "nope" not found, try pulling it first`})
	}))
	defer server.Close()

	p := newTestProvider(server)
	_, err := p.Generate(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig())
	if !provider.IsKind(err, provider.KindInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestGenerateSingleFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(ChatResponse{
			Message: Message{Role: "assistant", Content: "done"},
			Done:    true,
		})
	}))
	defer server.Close()

	p := newTestProvider(server)

	started := make(chan struct{})
	go func() {
		close(started)
		p.Generate(context.Background(), userTurn("first"), "llama3.2", provider.DefaultConfig())
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := p.Generate(context.Background(), userTurn("second"), "llama3.2", provider.DefaultConfig())
	if !errors.Is(err, provider.ErrOperationInProgress) {
		t.Errorf("err = %v, want ErrOperationInProgress", err)
	}

	close(release)
}

// =============================================================================
// STREAM TESTS
// =============================================================================

// writeNDJSON writes one chat line and flushes.
func writeNDJSON(w http.ResponseWriter, resp ChatResponse) {
	data, _ := json.Marshal(resp)
	fmt.Fprintf(w, "%s\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Stream must request streaming")
		}

		for _, word := range []string{"Hello", " ", "world"} {
			writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: word}})
		}
		writeNDJSON(w, ChatResponse{Done: true, DoneReason: "stop", EvalCount: 3})
	}))
	defer server.Close()

	p := newTestProvider(server)
	acc := provider.NewAccumulator()
	for chunk := range p.Stream(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig()) {
		acc.Add(chunk)
	}

	if err := acc.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if !acc.Done() {
		t.Fatal("no terminal chunk seen")
	}
	if acc.Text() != "Hello world" {
		t.Errorf("Text = %q, want 'Hello world'", acc.Text())
	}
	result := acc.Result()
	if result.FinishReason != provider.FinishReasonStop {
		t.Errorf("FinishReason = %v", result.FinishReason)
	}
}

func TestStreamExactlyOneTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: "hi"}})
		// Two done lines; only the first may surface.
		writeNDJSON(w, ChatResponse{Done: true, DoneReason: "stop"})
		writeNDJSON(w, ChatResponse{Done: true, DoneReason: "stop"})
	}))
	defer server.Close()

	p := newTestProvider(server)
	terminals := 0
	for chunk := range p.Stream(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig()) {
		if chunk.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal chunks = %d, want exactly 1", terminals)
	}
}

func TestStreamContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 1000; i++ {
			writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: "x"}})
			time.Sleep(5 * time.Millisecond)
			if r.Context().Err() != nil {
				return
			}
		}
	}))
	defer server.Close()

	p := newTestProvider(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := p.Stream(ctx, userTurn("Hi"), "llama3.2", provider.DefaultConfig())
	var last provider.GenerationChunk
	count := 0
	for chunk := range ch {
		last = chunk
		count++
		if count == 3 {
			cancel()
		}
	}

	if !last.Terminal() {
		t.Fatal("stream closed without a terminal chunk")
	}
	if last.FinishReason != provider.FinishReasonCancelled {
		t.Errorf("FinishReason = %v, want cancelled", last.FinishReason)
	}
}

func TestStreamCancelGeneration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 1000; i++ {
			writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: "x"}})
			time.Sleep(5 * time.Millisecond)
			if r.Context().Err() != nil {
				return
			}
		}
	}))
	defer server.Close()

	p := newTestProvider(server)
	ch := p.Stream(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig())

	var last provider.GenerationChunk
	count := 0
	for chunk := range ch {
		last = chunk
		count++
		if count == 3 {
			p.CancelGeneration()
		}
	}

	if last.FinishReason != provider.FinishReasonCancelled {
		t.Errorf("FinishReason = %v, want cancelled", last.FinishReason)
	}

	// The flag resets on the next call; a fresh stream must run to stop.
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: "ok"}})
		writeNDJSON(w, ChatResponse{Done: true, DoneReason: "stop"})
	}))
	defer server2.Close()

	p2 := newTestProvider(server2)
	p2.CancelGeneration()
	acc := provider.NewAccumulator()
	for chunk := range p2.Stream(context.Background(), userTurn("again"), "llama3.2", provider.DefaultConfig()) {
		acc.Add(chunk)
	}
	if acc.Err() != nil {
		t.Fatalf("second stream error: %v", acc.Err())
	}
	if acc.Result().FinishReason != provider.FinishReasonStop {
		t.Errorf("second stream FinishReason = %v, want stop", acc.Result().FinishReason)
	}
}

func TestStreamEarlyEOF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeNDJSON(w, ChatResponse{Message: Message{Role: "assistant", Content: "partial"}})
		// Connection closes without a done line.
	}))
	defer server.Close()

	p := newTestProvider(server)
	var last provider.GenerationChunk
	for chunk := range p.Stream(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig()) {
		last = chunk
	}

	if !last.IsComplete {
		t.Errorf("last chunk = %+v, want complete", last)
	}
}

func TestStreamErrorChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(engineError{Error: "something broke"})
	}))
	defer server.Close()

	p := newTestProvider(server)
	var last provider.GenerationChunk
	for chunk := range p.Stream(context.Background(), userTurn("Hi"), "llama3.2", provider.DefaultConfig()) {
		last = chunk
	}

	if last.Err == nil {
		t.Fatal("want error chunk")
	}
	if !provider.IsKind(last.Err, provider.KindServer) {
		t.Errorf("err = %v, want server kind", last.Err)
	}
}

// =============================================================================
// AVAILABILITY TESTS
// =============================================================================

func TestAvailabilityStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestProvider(server)
	status := p.AvailabilityStatus(context.Background())
	if !status.Available {
		t.Errorf("status = %+v, want available", status)
	}

	server.Close()
	status = p.AvailabilityStatus(context.Background())
	if status.Available {
		t.Error("want unavailable after engine stops")
	}
	if status.Reason != provider.ReasonEngineNotRunning {
		t.Errorf("Reason = %v, want engine not running", status.Reason)
	}
}

func TestIsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestProvider(server)
	if !p.IsAvailable() {
		t.Error("want available while fake engine runs")
	}
}
