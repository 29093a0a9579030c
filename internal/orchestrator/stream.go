package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/apollohq/apollo-gateway/internal/upstream"
)

// StreamSession owns one in-flight streamed response. The handler drains
// Chunks and must call Close on every exit path; normal completion, client
// disconnect, and error all funnel through the same finalize step, which
// releases the upstream body, feeds the truncation tracker, and settles usage
// exactly once.
type StreamSession struct {
	orchestrator *Orchestrator
	userID       string
	dispatched   *dispatched

	out chan upstream.StreamChunk

	mu           sync.Mutex
	usage        upstream.Usage
	content      strings.Builder
	finishReason string
	truncation   *upstream.ToolTruncation

	finalize sync.Once
}

func newStreamSession(o *Orchestrator, userID string, d *dispatched) *StreamSession {
	return &StreamSession{
		orchestrator: o,
		userID:       userID,
		dispatched:   d,
		out:          make(chan upstream.StreamChunk, 16),
	}
}

// Model returns the resolved upstream model for the session.
func (s *StreamSession) Model() string { return s.dispatched.model }

// Chunks returns the channel of output chunks. It closes when the upstream
// stream ends.
func (s *StreamSession) Chunks() <-chan upstream.StreamChunk { return s.out }

// pump forwards upstream chunks to the caller while accumulating accounting
// state. It finalizes when the upstream closes or the context ends.
func (s *StreamSession) pump(ctx context.Context) {
	defer close(s.out)
	defer s.Close()

	for chunk := range s.orchestrator.client.StreamToOutput(ctx, s.dispatched.response.Body, s.dispatched.model) {
		s.absorb(chunk)
		select {
		case s.out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

// absorb folds one chunk's metadata into the session's accounting state.
func (s *StreamSession) absorb(chunk upstream.StreamChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chunk.Content != "" {
		s.content.WriteString(chunk.Content)
	}
	if chunk.Usage != nil {
		s.usage = *chunk.Usage
	}
	if chunk.FinishReason != "" {
		s.finishReason = chunk.FinishReason
	}
	if chunk.Truncation != nil {
		s.truncation = chunk.Truncation
	}
}

// Close finalizes the session: the upstream body is released, detected
// truncation is saved for the conversation's next turn, and accumulated usage
// is settled. Safe to call more than once; only the first call acts.
func (s *StreamSession) Close() {
	s.finalize.Do(func() {
		_ = s.dispatched.response.Body.Close()

		s.mu.Lock()
		usage := s.usage
		finishReason := s.finishReason
		truncated := s.truncation
		content := s.content.String()
		s.mu.Unlock()

		switch {
		case truncated != nil:
			s.orchestrator.tracker.SaveTool(*truncated)
		case finishReason == "length" && content != "":
			s.orchestrator.tracker.SaveContent(content)
		}

		s.orchestrator.settle(s.userID, s.dispatched.model,
			usage.PromptTokens, usage.CompletionTokens, s.dispatched.credentialID)
	})
}
