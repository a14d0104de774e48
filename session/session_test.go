// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

func newTestSession(responses ...string) (*ChatSession, *provider.MockProvider) {
	mock := provider.NewMockProvider(responses...)
	return New(mock, "llama3.2"), mock
}

func roles(t *testing.T, s *ChatSession) []model.Role {
	t.Helper()
	history := s.History()
	out := make([]model.Role, len(history))
	for i, m := range history {
		out[i] = m.Role
	}
	return out
}

func systemCount(s *ChatSession) int {
	count := 0
	for _, m := range s.History() {
		if m.Role == model.RoleSystem {
			count++
		}
	}
	return count
}

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

func TestSetSystemPromptReplaces(t *testing.T) {
	s, _ := newTestSession()

	s.SetSystemPrompt("You are helpful.")
	s.SetSystemPrompt("Be concise.")

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Role != model.RoleSystem || history[0].Text() != "Be concise." {
		t.Errorf("history[0] = %v %q", history[0].Role, history[0].Text())
	}
}

func TestSetSystemPromptSingleton(t *testing.T) {
	s, _ := newTestSession()

	// Arbitrary sequences never yield more than one system message, and
	// it is always at index 0.
	s.SetSystemPrompt("a")
	s.Send(context.Background(), "hello")
	s.SetSystemPrompt("b")
	s.SetSystemPrompt("")
	s.SetSystemPrompt("c")
	s.SetSystemPrompt("d")

	if got := systemCount(s); got != 1 {
		t.Fatalf("system count = %d, want 1", got)
	}
	if s.History()[0].Role != model.RoleSystem {
		t.Error("system message not at index 0")
	}
}

func TestSetSystemPromptRemove(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("sys")
	s.Send(context.Background(), "hello")

	s.SetSystemPrompt("")

	if got := systemCount(s); got != 0 {
		t.Errorf("system count = %d, want 0", got)
	}
	if s.MessageCount() != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount())
	}
}

func TestSystemPromptAccessor(t *testing.T) {
	s, _ := newTestSession()
	if _, ok := s.SystemPrompt(); ok {
		t.Error("want no system prompt initially")
	}
	s.SetSystemPrompt("sys")
	if text, ok := s.SystemPrompt(); !ok || text != "sys" {
		t.Errorf("SystemPrompt() = %q, %v", text, ok)
	}
}

// =============================================================================
// SEND
// =============================================================================

func TestSend(t *testing.T) {
	s, _ := newTestSession()

	result, err := s.Send(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Text != "Mock response" {
		t.Errorf("result.Text = %q", result.Text)
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != model.RoleUser || history[0].Text() != "Hello" {
		t.Errorf("history[0] = %v %q", history[0].Role, history[0].Text())
	}
	if history[1].Role != model.RoleAssistant || history[1].Text() != "Mock response" {
		t.Errorf("history[1] = %v %q", history[1].Role, history[1].Text())
	}
	if s.IsGenerating() {
		t.Error("session still generating after Send")
	}
}

func TestSendFailureKeepsUserMessage(t *testing.T) {
	s, mock := newTestSession()
	mock.FailWith(provider.ServerError(500, "backend down"))

	before := s.MessageCount()
	_, err := s.Send(context.Background(), "Hello")
	if err == nil {
		t.Fatal("want error")
	}

	// +1 message on failure: the user turn stays, no assistant turn.
	if got := s.MessageCount(); got != before+1 {
		t.Errorf("MessageCount = %d, want %d", got, before+1)
	}
	if s.History()[s.MessageCount()-1].Role != model.RoleUser {
		t.Error("last message should be the user turn")
	}
	if s.LastError() == nil {
		t.Error("LastError not recorded")
	}
	if s.IsGenerating() {
		t.Error("session stuck in Generating after failure")
	}
}

func TestSendClearsLastError(t *testing.T) {
	s, mock := newTestSession()
	mock.FailWith(provider.ServerError(500, "transient"))
	s.Send(context.Background(), "first")

	mock.FailWith(nil)
	if _, err := s.Send(context.Background(), "second"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.LastError() != nil {
		t.Errorf("LastError = %v, want nil after success", s.LastError())
	}
}

func TestSendPassesFullHistory(t *testing.T) {
	s, mock := newTestSession("first", "second")
	s.SetSystemPrompt("sys")

	s.Send(context.Background(), "Q1")
	s.Send(context.Background(), "Q2")

	if len(mock.Calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(mock.Calls))
	}
	// Second call sees system + Q1 exchange + Q2.
	if len(mock.Calls[1]) != 4 {
		t.Errorf("second call history length = %d, want 4", len(mock.Calls[1]))
	}
	if mock.Calls[1][0].Role != model.RoleSystem {
		t.Error("system prompt missing from request history")
	}
}

func TestSendAll(t *testing.T) {
	s, _ := newTestSession("one", "two", "three")

	replies, err := s.SendAll(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("SendAll: %v", err)
	}
	if len(replies) != 3 || replies[0] != "one" || replies[2] != "three" {
		t.Errorf("replies = %v", replies)
	}
	if s.MessageCount() != 6 {
		t.Errorf("MessageCount = %d, want 6", s.MessageCount())
	}
}

// =============================================================================
// CONCURRENT SEND REJECTION
// =============================================================================

func TestConcurrentSendRejected(t *testing.T) {
	s, mock := newTestSession()
	mock.ChunkDelay = 20 * time.Millisecond

	ch := s.Stream(context.Background(), "long question")

	// Wait for the first chunk so the stream is demonstrably in flight.
	<-ch

	before := s.MessageCount()
	_, err := s.Send(context.Background(), "impatient second question")
	if !errors.Is(err, provider.ErrOperationInProgress) {
		t.Errorf("err = %v, want ErrOperationInProgress", err)
	}
	if got := s.MessageCount(); got != before {
		t.Errorf("history altered by rejected send: %d -> %d", before, got)
	}

	for range ch {
	}
}

func TestConcurrentSendsRace(t *testing.T) {
	s, _ := newTestSession()

	var wg sync.WaitGroup
	var successes, rejections atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Send(context.Background(), "hi")
			if errors.Is(err, provider.ErrOperationInProgress) {
				rejections.Add(1)
			} else if err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load()+rejections.Load() != 8 {
		t.Fatalf("successes=%d rejections=%d", successes.Load(), rejections.Load())
	}
	// Each success contributes exactly a user+assistant pair.
	if got := s.MessageCount(); got != int(successes.Load())*2 {
		t.Errorf("MessageCount = %d, want %d", got, successes.Load()*2)
	}
}

// =============================================================================
// STREAM
// =============================================================================

func TestStreamCommitsOnTerminal(t *testing.T) {
	s, _ := newTestSession("streamed reply text")

	var terminals int
	for chunk := range s.Stream(context.Background(), "Hi") {
		if chunk.Terminal() {
			terminals++
			// History is committed before the terminal chunk arrives.
			if last, ok := s.LastAssistantMessage(); !ok || last.Text() != "streamed reply text" {
				t.Errorf("assistant message at terminal time = %v", last.Text())
			}
			if s.StreamingText() != "" {
				t.Errorf("StreamingText = %q, want empty after commit", s.StreamingText())
			}
		}
	}

	if terminals != 1 {
		t.Fatalf("terminal chunks = %d, want exactly 1", terminals)
	}
	if s.MessageCount() != 2 {
		t.Errorf("MessageCount = %d, want 2", s.MessageCount())
	}
	if s.IsGenerating() {
		t.Error("session still generating after stream end")
	}
}

func TestStreamAccumulatesDuringFlight(t *testing.T) {
	s, mock := newTestSession("alpha beta gamma")
	mock.ChunkDelay = 5 * time.Millisecond

	seen := ""
	for chunk := range s.Stream(context.Background(), "Hi") {
		if chunk.Text != "" {
			seen += chunk.Text
			if got := s.StreamingText(); got != seen {
				t.Errorf("StreamingText = %q, want %q", got, seen)
			}
		}
	}
	if seen != "alpha beta gamma" {
		t.Errorf("accumulated = %q", seen)
	}
}

func TestStreamErrorDoesNotCommit(t *testing.T) {
	s, mock := newTestSession()
	mock.FailWith(provider.NetworkError(errors.New("conn reset")))

	for range s.Stream(context.Background(), "Hi") {
	}

	if s.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1 (user only)", s.MessageCount())
	}
	if !provider.IsKind(s.LastError(), provider.KindNetwork) {
		t.Errorf("LastError = %v", s.LastError())
	}
	if s.IsGenerating() {
		t.Error("session stuck in Generating after stream error")
	}
}

func TestStreamCancelPreservesPartial(t *testing.T) {
	s, mock := newTestSession("one two three four five six")
	mock.ChunkDelay = 5 * time.Millisecond

	count := 0
	var last provider.GenerationChunk
	for chunk := range s.Stream(context.Background(), "Hi") {
		last = chunk
		count++
		if count == 3 {
			s.Cancel()
		}
	}

	if last.FinishReason != provider.FinishReasonCancelled {
		t.Fatalf("FinishReason = %v, want cancelled", last.FinishReason)
	}
	if s.IsGenerating() {
		t.Error("session not Idle after cancel")
	}
	// Partial text stays inspectable but is not committed to history.
	if s.StreamingText() == "" {
		t.Error("partial StreamingText lost after cancel")
	}
	if s.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1 (no assistant commit)", s.MessageCount())
	}
}

// =============================================================================
// UNDO
// =============================================================================

func TestUndoSymmetry(t *testing.T) {
	s, _ := newTestSession("A-reply", "B-reply")

	s.Send(context.Background(), "A")
	want := roles(t, s)
	wantLast, _ := s.LastAssistantMessage()

	s.Send(context.Background(), "B")
	if !s.UndoLastExchange() {
		t.Fatal("undo returned false")
	}

	got := roles(t, s)
	if len(got) != len(want) {
		t.Fatalf("roles = %v, want %v", got, want)
	}
	gotLast, _ := s.LastAssistantMessage()
	if gotLast.Text() != wantLast.Text() {
		t.Errorf("last assistant = %q, want %q", gotLast.Text(), wantLast.Text())
	}
}

func TestUndoWithSystemPrompt(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("Sys")
	s.Send(context.Background(), "Q1")
	s.Send(context.Background(), "Q2")

	if s.MessageCount() != 5 {
		t.Fatalf("MessageCount = %d, want 5", s.MessageCount())
	}
	if !s.UndoLastExchange() {
		t.Fatal("undo returned false")
	}
	if s.MessageCount() != 3 {
		t.Errorf("MessageCount = %d, want 3", s.MessageCount())
	}
	history := s.History()
	if history[0].Role != model.RoleSystem {
		t.Error("system message disturbed by undo")
	}
	if history[2].Role != model.RoleAssistant {
		t.Errorf("last message role = %v, want assistant", history[2].Role)
	}
}

func TestUndoEmptySession(t *testing.T) {
	s, _ := newTestSession()
	if s.UndoLastExchange() {
		t.Error("undo on empty session should return false")
	}
	if s.MessageCount() != 0 {
		t.Errorf("MessageCount = %d, want 0", s.MessageCount())
	}
}

func TestUndoDanglingUserMessage(t *testing.T) {
	s, mock := newTestSession()
	mock.FailWith(provider.ServerError(500, "down"))
	s.Send(context.Background(), "failed question")

	// Only a user message exists; no complete pair to undo.
	if s.UndoLastExchange() {
		t.Error("undo without an assistant reply should return false")
	}
	if s.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1", s.MessageCount())
	}
}

// =============================================================================
// CLEAR AND INJECT
// =============================================================================

func TestClearHistoryPreservesSystem(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("sys")
	s.Send(context.Background(), "Q")

	s.ClearHistory(true)

	history := s.History()
	if len(history) != 1 || history[0].Role != model.RoleSystem {
		t.Errorf("history = %v, want sole system message", roles(t, s))
	}
}

func TestClearHistoryAll(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("sys")
	s.Send(context.Background(), "Q")

	s.ClearHistory(false)

	if s.MessageCount() != 0 {
		t.Errorf("MessageCount = %d, want 0", s.MessageCount())
	}
}

func TestInjectHistoryFiltersSystem(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("Current")

	s.InjectHistory([]model.Message{
		model.NewSystemMessage("Old"),
		model.NewUserMessage("Q"),
		model.NewAssistantMessage("A"),
	})

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Text() != "Current" {
		t.Errorf("system prompt = %q, want 'Current'", history[0].Text())
	}
	if got := systemCount(s); got != 1 {
		t.Errorf("system count = %d, want 1", got)
	}
	if history[1].Role != model.RoleUser || history[2].Role != model.RoleAssistant {
		t.Errorf("roles = %v", roles(t, s))
	}
}

func TestInjectHistoryWithoutExistingSystem(t *testing.T) {
	s, _ := newTestSession()

	s.InjectHistory([]model.Message{
		model.NewSystemMessage("smuggled"),
		model.NewUserMessage("Q"),
	})

	if got := systemCount(s); got != 0 {
		t.Errorf("system count = %d, want 0 (injected system dropped)", got)
	}
	if s.MessageCount() != 1 {
		t.Errorf("MessageCount = %d, want 1", s.MessageCount())
	}
}

// =============================================================================
// DERIVED PROPERTIES
// =============================================================================

func TestDerivedProperties(t *testing.T) {
	s, _ := newTestSession("r1", "r2")
	s.SetSystemPrompt("sys")

	if s.HasConversation() {
		t.Error("HasConversation should be false with only a system prompt")
	}

	s.Send(context.Background(), "Q1")
	s.Send(context.Background(), "Q2")

	if !s.HasConversation() {
		t.Error("HasConversation should be true")
	}
	if got := s.UserMessageCount(); got != 2 {
		t.Errorf("UserMessageCount = %d, want 2", got)
	}
	if last, ok := s.LastUserMessage(); !ok || last.Text() != "Q2" {
		t.Errorf("LastUserMessage = %q", last.Text())
	}
	if last, ok := s.LastAssistantMessage(); !ok || last.Text() != "r2" {
		t.Errorf("LastAssistantMessage = %q", last.Text())
	}
}

func TestMetaAndClone(t *testing.T) {
	s, _ := newTestSession()
	s.SetSystemPrompt("sys")
	s.Send(context.Background(), "Q")

	meta := s.Meta()
	if meta.MessageCount != 3 || meta.UserMessages != 1 || !meta.HasSystemPrompt {
		t.Errorf("Meta = %+v", meta)
	}
	if meta.Model != "llama3.2" {
		t.Errorf("Meta.Model = %q", meta.Model)
	}

	clone := s.Clone()
	if clone.ID() == s.ID() {
		t.Error("clone shares the original's ID")
	}
	if clone.MessageCount() != s.MessageCount() {
		t.Errorf("clone MessageCount = %d, want %d", clone.MessageCount(), s.MessageCount())
	}

	// Mutating the clone leaves the original untouched.
	clone.Send(context.Background(), "extra")
	if s.MessageCount() != 3 {
		t.Errorf("original MessageCount = %d after clone mutation", s.MessageCount())
	}
}

func TestNewWithOptions(t *testing.T) {
	mock := provider.NewMockProvider()
	s := NewWithOptions(mock, "llama3.2", Options{
		Config:       provider.PresetPrecise,
		SystemPrompt: "seeded",
	})

	if text, ok := s.SystemPrompt(); !ok || text != "seeded" {
		t.Errorf("SystemPrompt = %q, %v", text, ok)
	}
	if s.Config() != provider.PresetPrecise {
		t.Errorf("Config = %+v", s.Config())
	}
}
