// Package truncation tracks upstream mid-stream cutoffs so the next request
// in the conversation can tell the model what happened instead of silently
// replaying a broken tool result.
package truncation

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/apollohq/apollo-gateway/internal/upstream"

	log "github.com/sirupsen/logrus"
)

const (
	// digestInput bounds how much content feeds the identity digest. The
	// prefix is enough to be unique across a conversation.
	digestInput = 500
	// previewLen bounds the stored preview, kept for diagnostics only.
	previewLen = 200
)

// ToolEntry is the recorded state of one truncated tool call.
type ToolEntry struct {
	ToolCallID string
	ToolName   string
	SizeBytes  int
	Reason     string
	SavedAt    time.Time
}

// ContentEntry is the recorded state of one truncated assistant message.
type ContentEntry struct {
	Digest  string
	Preview string
	SavedAt time.Time
}

// Stats reports the tracker's cache sizes.
type Stats struct {
	ToolTruncations    int `json:"tool_truncations"`
	ContentTruncations int `json:"content_truncations"`
	Total              int `json:"total"`
}

// Tracker holds truncation state in process memory. Entries live until taken
// or until restart; there is no TTL, because a client may resume a
// conversation hours later and the record must still be there. Take operations
// are fetch-and-delete, so each truncation is reported to the model exactly
// once.
type Tracker struct {
	mu      sync.Mutex
	tools   map[string]ToolEntry
	content map[string]ContentEntry
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tools:   make(map[string]ToolEntry),
		content: make(map[string]ContentEntry),
	}
}

// SaveTool records a truncated tool call keyed by its stable tool-call id.
func (t *Tracker) SaveTool(diag upstream.ToolTruncation) {
	t.mu.Lock()
	t.tools[diag.ToolCallID] = ToolEntry{
		ToolCallID: diag.ToolCallID,
		ToolName:   diag.ToolName,
		SizeBytes:  diag.SizeBytes,
		Reason:     diag.Reason,
		SavedAt:    time.Now(),
	}
	t.mu.Unlock()
	log.Debugf("saved tool truncation for %s (%s)", diag.ToolCallID, diag.ToolName)
}

// TakeTool fetches and deletes the entry for a tool-call id.
func (t *Tracker) TakeTool(toolCallID string) (ToolEntry, bool) {
	t.mu.Lock()
	entry, ok := t.tools[toolCallID]
	if ok {
		delete(t.tools, toolCallID)
	}
	t.mu.Unlock()
	if ok {
		log.Debugf("retrieved tool truncation for %s", toolCallID)
	}
	return entry, ok
}

// SaveContent records a truncated assistant message, keyed by a digest of its
// leading text, and returns the digest.
func (t *Tracker) SaveContent(content string) string {
	digest := ContentDigest(content)
	preview := content
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	t.mu.Lock()
	t.content[digest] = ContentEntry{
		Digest:  digest,
		Preview: preview,
		SavedAt: time.Now(),
	}
	t.mu.Unlock()
	log.Debugf("saved content truncation with digest %s", digest)
	return digest
}

// TakeContent recomputes the digest for the given content and fetches and
// deletes the matching entry, if any.
func (t *Tracker) TakeContent(content string) (ContentEntry, bool) {
	digest := ContentDigest(content)
	t.mu.Lock()
	entry, ok := t.content[digest]
	if ok {
		delete(t.content, digest)
	}
	t.mu.Unlock()
	if ok {
		log.Debugf("retrieved content truncation for digest %s", digest)
	}
	return entry, ok
}

// Stats returns current cache sizes. Safe from any goroutine.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		ToolTruncations:    len(t.tools),
		ContentTruncations: len(t.content),
		Total:              len(t.tools) + len(t.content),
	}
}

// ContentDigest computes the stable identity of a message body: sha256 over
// the first 500 characters, truncated to 16 hex characters.
func ContentDigest(content string) string {
	input := content
	if len(input) > digestInput {
		input = input[:digestInput]
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}
