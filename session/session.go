// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// CHAT SESSION
// =============================================================================

// ChatSession owns the conversation state for one logical conversation.
type ChatSession struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	prov    provider.Provider
	modelID string
	config  provider.GenerateConfig

	messages      []model.Message
	isGenerating  bool
	lastError     error
	streamingText strings.Builder
}

// Options holds optional construction parameters.
type Options struct {
	// Config is the sampling configuration; zero value means defaults.
	Config provider.GenerateConfig

	// SystemPrompt, when non-empty, seeds the history with a system
	// message at index 0.
	SystemPrompt string
}

// New creates a session with default configuration and empty history.
func New(p provider.Provider, modelID string) *ChatSession {
	return NewWithOptions(p, modelID, Options{Config: provider.DefaultConfig()})
}

// NewWithOptions creates a session with explicit options.
func NewWithOptions(p provider.Provider, modelID string, opts Options) *ChatSession {
	if opts.Config == (provider.GenerateConfig{}) {
		opts.Config = provider.DefaultConfig()
	}

	s := &ChatSession{
		id:        "sess_" + uuid.NewString(),
		createdAt: time.Now(),
		prov:      p,
		modelID:   modelID,
		config:    opts.Config,
	}
	if opts.SystemPrompt != "" {
		s.messages = append(s.messages, model.NewSystemMessage(opts.SystemPrompt))
	}
	return s
}

// ID returns the session identifier.
func (s *ChatSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// =============================================================================
// SEND
// =============================================================================

// Send appends a user message, generates against the full history, and
// appends the assistant reply. On failure the user message remains, no
// assistant message is appended, and the error is recorded as LastError.
func (s *ChatSession) Send(ctx context.Context, text string) (*provider.GenerationResult, error) {
	s.mu.Lock()
	if s.isGenerating {
		s.mu.Unlock()
		return nil, provider.ErrOperationInProgress
	}
	s.isGenerating = true
	s.lastError = nil
	s.messages = append(s.messages, model.NewUserMessage(text))
	history := s.snapshotLocked()
	prov, modelID, cfg := s.prov, s.modelID, s.config
	s.mu.Unlock()

	// Provider call runs outside the lock so readers stay unblocked.
	result, err := prov.Generate(ctx, history, modelID, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isGenerating = false
	if err != nil {
		s.lastError = err
		return nil, err
	}
	s.messages = append(s.messages, model.NewAssistantMessage(result.Text))
	return result, nil
}

// SendAll sends each text in order and collects the reply texts. It stops
// at the first failure, returning the replies gathered so far alongside
// the error.
func (s *ChatSession) SendAll(ctx context.Context, texts []string) ([]string, error) {
	replies := make([]string, 0, len(texts))
	for _, text := range texts {
		result, err := s.Send(ctx, text)
		if err != nil {
			return replies, err
		}
		replies = append(replies, result.Text)
	}
	return replies, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream appends a user message and returns a chunk channel that relays the
// provider's stream. Text accumulates into the StreamingText buffer as
// chunks arrive; at a successful terminal chunk the accumulated text is
// committed as an assistant message (before the terminal chunk is
// delivered to the caller) and the buffer resets. On error or cancellation
// nothing is committed and the partial text stays inspectable.
func (s *ChatSession) Stream(ctx context.Context, text string) <-chan provider.GenerationChunk {
	out := make(chan provider.GenerationChunk, 16)

	s.mu.Lock()
	if s.isGenerating {
		s.mu.Unlock()
		out <- provider.GenerationChunk{Err: provider.ErrOperationInProgress}
		close(out)
		return out
	}
	s.isGenerating = true
	s.lastError = nil
	s.streamingText.Reset()
	s.messages = append(s.messages, model.NewUserMessage(text))
	history := s.snapshotLocked()
	prov, modelID, cfg := s.prov, s.modelID, s.config
	s.mu.Unlock()

	upstream := prov.Stream(ctx, history, modelID, cfg)

	go func() {
		defer close(out)
		terminated := false
		for chunk := range upstream {
			s.observeChunk(chunk)
			if chunk.Terminal() {
				terminated = true
			}
			out <- chunk
			if terminated {
				break
			}
		}
		if !terminated {
			// Upstream closed without a terminal chunk; reset the gate
			// so the session stays usable.
			s.mu.Lock()
			s.isGenerating = false
			s.mu.Unlock()
		}
	}()

	return out
}

// observeChunk folds one chunk into session state before it is relayed.
func (s *ChatSession) observeChunk(chunk provider.GenerationChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.Err != nil {
		s.lastError = chunk.Err
		s.isGenerating = false
		return
	}
	if chunk.Text != "" {
		s.streamingText.WriteString(chunk.Text)
	}
	if chunk.IsComplete {
		s.isGenerating = false
		if chunk.FinishReason == provider.FinishReasonCancelled {
			// Partial text stays in the buffer for inspection.
			return
		}
		s.messages = append(s.messages, model.NewAssistantMessage(s.streamingText.String()))
		s.streamingText.Reset()
	}
}

// Cancel requests cooperative cancellation of the in-flight generation.
// No-op when the session is idle.
func (s *ChatSession) Cancel() {
	s.mu.Lock()
	prov := s.prov
	generating := s.isGenerating
	s.mu.Unlock()

	if generating {
		prov.CancelGeneration()
	}
}

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

// SetSystemPrompt replaces the system message at index 0, inserting one if
// absent. An empty string removes the system message entirely. The history
// never holds more than one system message.
func (s *ChatSession) SetSystemPrompt(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasSystem := len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem

	switch {
	case text == "" && hasSystem:
		s.messages = append(s.messages[:0:0], s.messages[1:]...)
	case text == "":
		// Nothing to remove.
	case hasSystem:
		s.messages[0] = model.NewSystemMessage(text)
	default:
		s.messages = append([]model.Message{model.NewSystemMessage(text)}, s.messages...)
	}
}

// SystemPrompt returns the current system prompt text, if any.
func (s *ChatSession) SystemPrompt() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		return s.messages[0].Text(), true
	}
	return "", false
}

// =============================================================================
// HISTORY OPERATIONS
// =============================================================================

// ClearHistory empties the message list. With preserveSystemPrompt, an
// existing system message survives as the sole remaining entry.
func (s *ChatSession) ClearHistory(preserveSystemPrompt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if preserveSystemPrompt && len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem {
		s.messages = []model.Message{s.messages[0]}
		return
	}
	s.messages = nil
}

// UndoLastExchange removes the most recent user+assistant pair. Returns
// false without modifying history when no complete pair exists. The system
// message is never touched.
func (s *ChatSession) UndoLastExchange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.messages)
	if n < 2 {
		return false
	}
	if s.messages[n-1].Role != model.RoleAssistant || s.messages[n-2].Role != model.RoleUser {
		return false
	}
	s.messages = s.messages[:n-2]
	return true
}

// InjectHistory appends messages to the history. System messages in the
// injected list are filtered out; the session's own system prompt is
// authoritative.
func (s *ChatSession) InjectHistory(messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		if m.Role == model.RoleSystem {
			continue
		}
		s.messages = append(s.messages, m)
	}
}

// History returns a copy of the message list.
func (s *ChatSession) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// snapshotLocked copies the message slice. Caller holds the lock.
func (s *ChatSession) snapshotLocked() []model.Message {
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// =============================================================================
// DERIVED PROPERTIES
// =============================================================================

// IsGenerating reports whether a generation is in flight.
func (s *ChatSession) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isGenerating
}

// LastError returns the error recorded by the most recent failed
// generation, nil after a success.
func (s *ChatSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// StreamingText returns the text accumulated by the in-flight (or most
// recently failed/cancelled) stream.
func (s *ChatSession) StreamingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingText.String()
}

// MessageCount returns the total number of messages, system included.
func (s *ChatSession) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// UserMessageCount returns the number of user messages.
func (s *ChatSession) UserMessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.messages {
		if m.Role == model.RoleUser {
			count++
		}
	}
	return count
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (s *ChatSession) LastAssistantMessage() (model.Message, bool) {
	return s.lastWithRole(model.RoleAssistant)
}

// LastUserMessage returns the most recent user message, if any.
func (s *ChatSession) LastUserMessage() (model.Message, bool) {
	return s.lastWithRole(model.RoleUser)
}

func (s *ChatSession) lastWithRole(role model.Role) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == role {
			return s.messages[i], true
		}
	}
	return model.Message{}, false
}

// HasConversation reports whether any non-system messages exist.
func (s *ChatSession) HasConversation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.Role != model.RoleSystem {
			return true
		}
	}
	return false
}

// Model returns the model identifier the session generates with.
func (s *ChatSession) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// SetModel switches the model for subsequent generations.
func (s *ChatSession) SetModel(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelID = modelID
}

// Config returns the current sampling configuration.
func (s *ChatSession) Config() provider.GenerateConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetConfig replaces the sampling configuration for subsequent generations.
func (s *ChatSession) SetConfig(cfg provider.GenerateConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}

// =============================================================================
// META AND CLONE
// =============================================================================

// Meta is a lightweight snapshot for listing UIs.
type Meta struct {
	ID              string
	Model           string
	CreatedAt       time.Time
	MessageCount    int
	UserMessages    int
	HasSystemPrompt bool
}

// Meta returns a snapshot of the session's identity and shape.
func (s *ChatSession) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := 0
	for _, m := range s.messages {
		if m.Role == model.RoleUser {
			users++
		}
	}

	return Meta{
		ID:              s.id,
		Model:           s.modelID,
		CreatedAt:       s.createdAt,
		MessageCount:    len(s.messages),
		UserMessages:    users,
		HasSystemPrompt: len(s.messages) > 0 && s.messages[0].Role == model.RoleSystem,
	}
}

// Clone returns an idle copy of the session with the same provider, model,
// config, and history, under a fresh identifier. In-flight state does not
// carry over.
func (s *ChatSession) Clone() *ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &ChatSession{
		id:        "sess_" + uuid.NewString(),
		createdAt: time.Now(),
		prov:      s.prov,
		modelID:   s.modelID,
		config:    s.config,
		messages:  s.snapshotLocked(),
	}
}
