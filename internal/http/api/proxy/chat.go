// Package proxy implements the OpenAI-compatible surface tenants call with
// their API keys.
package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handler serves the proxy endpoints.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	resolver     *alias.Resolver
}

// NewHandler constructs a proxy Handler.
func NewHandler(o *orchestrator.Orchestrator, resolver *alias.Resolver) *Handler {
	return &Handler{orchestrator: o, resolver: resolver}
}

// currentUser reads the user injected by the API-key middleware.
func currentUser(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get("user")
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

// ChatCompletions proxies POST /v1/chat/completions, streaming or not.
func (h *Handler) ChatCompletions(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
		return
	}

	var req upstream.ChatCompletionRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, openAIError("invalid request body", "invalid_request_error"))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, openAIError("model and messages are required", "invalid_request_error"))
		return
	}

	if req.Stream {
		h.streamCompletion(c, user, &req)
		return
	}

	completion, errComplete := h.orchestrator.Complete(c.Request.Context(), user, &req)
	if errComplete != nil {
		writeOrchestratorError(c, errComplete)
		return
	}
	c.JSON(http.StatusOK, completion)
}

// streamCompletion relays the upstream SSE stream to the client, flushing per
// chunk. Settlement is owned by the stream session and runs whether the
// client stays or goes.
func (h *Handler) streamCompletion(c *gin.Context, user *models.User, req *upstream.ChatCompletionRequest) {
	session, errStream := h.orchestrator.Stream(c.Request.Context(), user, req)
	if errStream != nil {
		writeOrchestratorError(c, errStream)
		return
	}
	defer session.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case chunk, open := <-session.Chunks():
			if !open {
				return
			}
			if _, errWrite := c.Writer.Write(chunk.Raw); errWrite != nil {
				log.WithError(errWrite).Debug("client write failed, ending stream")
				return
			}
			c.Writer.Flush()
		case <-clientGone:
			log.Debug("client disconnected mid-stream")
			return
		}
	}
}

// Models serves GET /v1/models: every alias name, OpenAI list shape.
func (h *Handler) Models(c *gin.Context) {
	mappings, errList := h.resolver.List(c.Request.Context())
	if errList != nil {
		log.WithError(errList).Error("list models failed")
		c.JSON(http.StatusInternalServerError, openAIError("failed to list models", "server_error"))
		return
	}

	created := time.Now().Unix()
	data := make([]gin.H, 0, len(mappings))
	for name := range mappings {
		data = append(data, gin.H{
			"id":       name,
			"object":   "model",
			"created":  created,
			"owned_by": "apollo-gateway",
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// openAIError renders the error envelope OpenAI clients expect.
func openAIError(message, errType string) gin.H {
	return gin.H{"error": gin.H{"message": message, "type": errType}}
}

// writeOrchestratorError maps the orchestrator's error taxonomy onto HTTP
// statuses: admission denials are rate-limit-class, an empty pool is service
// unavailability, upstream failures keep the upstream's status, and anything
// else is a generic server error.
func writeOrchestratorError(c *gin.Context, err error) {
	var admission *orchestrator.AdmissionError
	var upstreamErr *orchestrator.UpstreamError

	switch {
	case errors.As(err, &admission):
		c.JSON(http.StatusTooManyRequests, openAIError(admission.Reason, "rate_limit_exceeded"))
	case errors.Is(err, orchestrator.ErrNoCredential):
		c.JSON(http.StatusServiceUnavailable, openAIError("no upstream credential available", "server_error"))
	case errors.As(err, &upstreamErr):
		c.JSON(upstreamErr.StatusCode, openAIError(upstreamErr.Message, "upstream_error"))
	default:
		log.WithError(err).Error("chat completion failed")
		c.JSON(http.StatusInternalServerError, openAIError("internal server error", "server_error"))
	}
}
