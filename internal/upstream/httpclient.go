package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	retryBaseDelay    = 500 * time.Millisecond

	// scanBufferSize bounds a single SSE line; large tool arguments can
	// produce chunks well beyond bufio's default.
	scanBufferSize = 1 << 20
)

// HTTPClient is the default ProtocolClient: a pass-through to an
// OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

// NewHTTPClient constructs an HTTPClient for the given upstream base URL.
// The timeout bounds non-streaming calls; streaming reads are governed by the
// request context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		maxRetries: defaultMaxRetries,
	}
}

// BuildPayload renders the upstream JSON body for a neutral request.
func (c *HTTPClient) BuildPayload(req *ChatCompletionRequest, conversationID string) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("upstream: nil request")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("upstream: request has no messages")
	}
	payload, errMarshal := json.Marshal(req)
	if errMarshal != nil {
		return nil, fmt.Errorf("upstream: marshal payload: %w", errMarshal)
	}
	payload, errSet := sjson.SetBytes(payload, "metadata.conversation_id", conversationID)
	if errSet != nil {
		return nil, fmt.Errorf("upstream: set conversation id: %w", errSet)
	}
	return payload, nil
}

// SendWithRetry performs the upstream HTTP call, retrying transient failures
// (network errors, 429, 5xx) with linear backoff. The final response is
// returned as-is; non-success statuses are the caller's to surface.
func (c *HTTPClient) SendWithRetry(ctx context.Context, session AuthSession, payload []byte, stream bool) (*Response, error) {
	if session == nil {
		return nil, fmt.Errorf("upstream: nil session")
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt-1)):
			}
		}

		token, errToken := session.AccessToken(ctx)
		if errToken != nil {
			lastErr = fmt.Errorf("upstream: access token: %w", errToken)
			continue
		}

		httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if errReq != nil {
			return nil, fmt.Errorf("upstream: build request: %w", errReq)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		for key, value := range session.Headers(token) {
			httpReq.Header.Set(key, value)
		}

		resp, errDo := c.httpClient.Do(httpReq)
		if errDo != nil {
			lastErr = fmt.Errorf("upstream: send: %w", errDo)
			log.WithError(errDo).Debugf("upstream attempt %d/%d failed", attempt, c.maxRetries)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt < c.maxRetries {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("upstream: status %d", resp.StatusCode)
				log.Debugf("upstream attempt %d/%d: retryable status %d", attempt, c.maxRetries, resp.StatusCode)
				continue
			}
		}
		return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
	}
	return nil, lastErr
}

// streamState tracks the tool call in flight while scanning SSE events.
type streamState struct {
	toolCallID string
	toolName   string
	argBytes   int
}

// StreamToOutput converts the raw SSE stream into output chunks, extracting
// delta text, finish reasons, usage totals, and tool-truncation diagnostics.
func (c *HTTPClient) StreamToOutput(ctx context.Context, body io.Reader, model string) <-chan StreamChunk {
	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)

		state := streamState{}
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			chunk := parseSSEChunk(line, &state)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if errScan := scanner.Err(); errScan != nil {
			log.WithError(errScan).Debug("upstream stream read ended with error")
		}
	}()
	return out
}

// parseSSEChunk extracts accounting metadata from one "data: " SSE line.
func parseSSEChunk(line string, state *streamState) StreamChunk {
	chunk := StreamChunk{Raw: []byte(line + "\n\n")}

	data := strings.TrimPrefix(line, "data: ")
	if strings.TrimSpace(data) == "[DONE]" {
		return chunk
	}

	parsed := gjson.Parse(data)
	if delta := parsed.Get("choices.0.delta.content"); delta.Exists() {
		chunk.Content = delta.String()
	}
	if usage := parsed.Get("usage"); usage.Exists() && usage.IsObject() {
		chunk.Usage = &Usage{
			PromptTokens:     usage.Get("prompt_tokens").Int(),
			CompletionTokens: usage.Get("completion_tokens").Int(),
			TotalTokens:      usage.Get("total_tokens").Int(),
		}
	}
	if toolCall := parsed.Get("choices.0.delta.tool_calls.0"); toolCall.Exists() {
		if id := toolCall.Get("id").String(); id != "" {
			state.toolCallID = id
			state.argBytes = 0
		}
		if name := toolCall.Get("function.name").String(); name != "" {
			state.toolName = name
		}
		state.argBytes += len(toolCall.Get("function.arguments").String())
	}
	if finish := parsed.Get("choices.0.finish_reason"); finish.Exists() && finish.String() != "" {
		chunk.FinishReason = finish.String()
		if chunk.FinishReason == "length" && state.toolCallID != "" {
			chunk.Truncation = &ToolTruncation{
				ToolCallID: state.toolCallID,
				ToolName:   state.toolName,
				SizeBytes:  state.argBytes,
				Reason:     "stream ended mid tool call (output size limit)",
			}
		}
	}
	return chunk
}

// CollectFullResponse drains a non-streaming upstream reply.
func (c *HTTPClient) CollectFullResponse(ctx context.Context, body io.Reader, model string) (*ChatCompletion, error) {
	data, errRead := io.ReadAll(body)
	if errRead != nil {
		return nil, fmt.Errorf("upstream: read response: %w", errRead)
	}
	var completion ChatCompletion
	if errUnmarshal := json.Unmarshal(data, &completion); errUnmarshal != nil {
		return nil, fmt.Errorf("upstream: decode response: %w", errUnmarshal)
	}
	if completion.Model == "" {
		completion.Model = model
	}
	return &completion, nil
}
