package upstream

import (
	"context"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestBuildPayloadInjectsConversationID(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	req := &ChatCompletionRequest{
		Model:    "claude-sonnet-4",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}

	payload, errBuild := client.BuildPayload(req, "conv-123")
	if errBuild != nil {
		t.Fatalf("build payload: %v", errBuild)
	}
	if got := gjson.GetBytes(payload, "metadata.conversation_id").String(); got != "conv-123" {
		t.Fatalf("conversation id not injected: %q", got)
	}
	if got := gjson.GetBytes(payload, "model").String(); got != "claude-sonnet-4" {
		t.Fatalf("model lost in payload: %q", got)
	}
}

func TestBuildPayloadRejectsEmptyMessages(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	if _, errBuild := client.BuildPayload(&ChatCompletionRequest{Model: "m"}, "c"); errBuild == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestStreamToOutputExtractsContentAndUsage(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	var content strings.Builder
	var usage *Usage
	finish := ""
	for chunk := range client.StreamToOutput(context.Background(), strings.NewReader(stream), "m") {
		content.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if content.String() != "hello" {
		t.Fatalf("expected accumulated content hello, got %q", content.String())
	}
	if usage == nil || usage.PromptTokens != 12 || usage.CompletionTokens != 3 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if finish != "stop" {
		t.Fatalf("expected finish stop, got %q", finish)
	}
}

func TestStreamToOutputDetectsToolTruncation(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"Write","arguments":"{\"path"}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\":\"/tmp/x\""}}]}}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"length"}]}`,
		``,
	}, "\n")

	var truncation *ToolTruncation
	for chunk := range client.StreamToOutput(context.Background(), strings.NewReader(stream), "m") {
		if chunk.Truncation != nil {
			truncation = chunk.Truncation
		}
	}

	if truncation == nil {
		t.Fatal("expected tool truncation on length finish with in-flight tool call")
	}
	if truncation.ToolCallID != "call_1" || truncation.ToolName != "Write" {
		t.Fatalf("unexpected truncation %+v", truncation)
	}
	if truncation.SizeBytes == 0 {
		t.Fatal("expected accumulated argument bytes")
	}
}

func TestStreamToOutputNoTruncationOnCleanStop(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	stream := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"done"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		``,
	}, "\n")

	for chunk := range client.StreamToOutput(context.Background(), strings.NewReader(stream), "m") {
		if chunk.Truncation != nil {
			t.Fatalf("unexpected truncation %+v", chunk.Truncation)
		}
	}
}

func TestCollectFullResponseFillsModel(t *testing.T) {
	client := NewHTTPClient("https://upstream.example", 0)
	body := `{"id":"cmpl-1","object":"chat.completion","choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

	completion, errCollect := client.CollectFullResponse(context.Background(), strings.NewReader(body), "claude-sonnet-4")
	if errCollect != nil {
		t.Fatalf("collect: %v", errCollect)
	}
	if completion.Model != "claude-sonnet-4" {
		t.Fatalf("model not defaulted: %q", completion.Model)
	}
	if completion.Usage.TotalTokens != 2 {
		t.Fatalf("usage lost: %+v", completion.Usage)
	}
}
