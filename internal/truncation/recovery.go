package truncation

import (
	"fmt"

	"github.com/apollohq/apollo-gateway/internal/upstream"

	log "github.com/sirupsen/logrus"
)

// toolNotice is worded to acknowledge the upstream limitation, warn against
// repeating the same operation, and avoid prescribing micro-steps.
const toolNotice = "[API Limitation] Your tool call was truncated by the upstream API due to output size limits.\n\n" +
	"If the tool result below shows an error or unexpected behavior, this is likely a CONSEQUENCE of the truncation, " +
	"not the root cause. The tool call itself was cut off before it could be fully transmitted.\n\n" +
	"Repeating the exact same operation will be truncated again. Consider adapting your approach."

// contentNotice is the synthetic user turn appended after a truncated
// assistant message.
const contentNotice = "[System Notice] Your previous response was truncated by the API due to " +
	"output size limitations. This is not an error on your part. " +
	"If you need to continue, please adapt your approach rather than repeating the same output."

// RewriteMessages applies pending truncation state to an inbound conversation:
// a tool-result message whose tool-call id has a pending entry gets the notice
// prefixed before its original content, and an assistant message whose body
// matches a pending content digest gets a synthetic user message appended
// right after it. Message order is otherwise preserved; untouched messages
// pass through unchanged. Matched entries are consumed.
func RewriteMessages(tracker *Tracker, messages []upstream.ChatMessage) []upstream.ChatMessage {
	out := make([]upstream.ChatMessage, 0, len(messages))
	toolRewrites := 0
	contentNotices := 0

	for _, msg := range messages {
		if msg.Role == "tool" && msg.ToolCallID != "" {
			if entry, ok := tracker.TakeTool(msg.ToolCallID); ok {
				rewritten := msg
				rewritten.Content = fmt.Sprintf("%s\n\n---\n\nOriginal tool result:\n%s", toolNotice, msg.Content)
				out = append(out, rewritten)
				toolRewrites++
				log.Debugf("rewrote truncated tool result %s (%s, %d bytes, %s)",
					entry.ToolCallID, entry.ToolName, entry.SizeBytes, entry.Reason)
				continue
			}
		}

		if msg.Role == "assistant" && msg.Content != "" {
			if _, ok := tracker.TakeContent(msg.Content); ok {
				out = append(out, msg)
				out = append(out, upstream.ChatMessage{Role: "user", Content: contentNotice})
				contentNotices++
				continue
			}
		}

		out = append(out, msg)
	}

	if toolRewrites > 0 || contentNotices > 0 {
		log.Infof("truncation recovery: modified %d tool result(s), added %d content notice(s)",
			toolRewrites, contentNotices)
	}
	return out
}
