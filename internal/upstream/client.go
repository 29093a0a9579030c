package upstream

import (
	"context"
	"io"

	"github.com/apollohq/apollo-gateway/internal/models"
)

// AuthSession obtains and refreshes access material for one pool credential.
// Implementations own token refresh; a refresh failure surfaces at call time,
// never at credential selection time.
type AuthSession interface {
	// AccessToken returns a currently valid access token, refreshing if needed.
	AccessToken(ctx context.Context) (string, error)
	// Headers builds the upstream request headers for the given access token.
	Headers(accessToken string) map[string]string
}

// SessionFactory constructs an AuthSession from a credential record.
// The credential bridge calls this lazily, once per credential id.
type SessionFactory interface {
	NewSession(credential *models.Credential) (AuthSession, error)
}

// Response is the raw upstream reply handed to the orchestrator. The caller
// owns Body and must close it on every exit path.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// ProtocolClient converts between the gateway's neutral request shape and one
// upstream wire protocol. Retry policy lives here, not in the orchestrator.
type ProtocolClient interface {
	// BuildPayload renders the upstream request body for a neutral request.
	BuildPayload(req *ChatCompletionRequest, conversationID string) ([]byte, error)
	// SendWithRetry performs the upstream HTTP call with connection reuse and
	// bounded retries on transient failures.
	SendWithRetry(ctx context.Context, session AuthSession, payload []byte, stream bool) (*Response, error)
	// StreamToOutput converts the raw upstream stream into output chunks.
	// The channel closes when the stream ends; the reader is not closed.
	StreamToOutput(ctx context.Context, body io.Reader, model string) <-chan StreamChunk
	// CollectFullResponse drains the upstream reply into one completion.
	CollectFullResponse(ctx context.Context, body io.Reader, model string) (*ChatCompletion, error)
}
