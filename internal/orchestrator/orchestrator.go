// Package orchestrator runs the per-request pipeline: tenant authentication,
// quota admission, credential selection, model resolution, truncation
// recovery, upstream dispatch, and usage settlement.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/cache"
	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"
	"github.com/apollohq/apollo-gateway/internal/upstream"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// authCacheTTL bounds how long an API-key lookup is served without touching
// the store. Admin mutations call InvalidateAuth.
const authCacheTTL = 30 * time.Second

// finalizeTimeout bounds the settlement writes that run after the client is
// gone.
const finalizeTimeout = 10 * time.Second

// Sentinel errors classifying pre-dispatch failures.
var (
	// ErrInvalidAPIKey means the presented key matches no user.
	ErrInvalidAPIKey = errors.New("orchestrator: invalid api key")
	// ErrUserSuspended means the key's owner is suspended.
	ErrUserSuspended = errors.New("orchestrator: user suspended")
	// ErrNoCredential means the pool has no active credential to serve with.
	ErrNoCredential = errors.New("orchestrator: no active upstream credential")
)

// AdmissionError is a quota denial. It carries the ledger's human-readable
// reason and maps to a rate-limit-class response.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string { return "orchestrator: admission denied: " + e.Reason }

// UpstreamError is a non-success reply from the upstream, surfaced with its
// own status code and a sanitized message. Never retried at this layer.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("orchestrator: upstream status %d: %s", e.StatusCode, e.Message)
}

// Orchestrator wires the gateway components into the request pipeline.
type Orchestrator struct {
	db          *gorm.DB
	credentials *credential.Store
	bridge      *credential.Bridge
	resolver    *alias.Resolver
	ledger      *quota.Ledger
	tracker     *truncation.Tracker
	client      upstream.ProtocolClient

	authCache *cache.TTL[models.User]
}

// New constructs an Orchestrator.
func New(
	db *gorm.DB,
	credentials *credential.Store,
	bridge *credential.Bridge,
	resolver *alias.Resolver,
	ledger *quota.Ledger,
	tracker *truncation.Tracker,
	client upstream.ProtocolClient,
) *Orchestrator {
	return &Orchestrator{
		db:          db,
		credentials: credentials,
		bridge:      bridge,
		resolver:    resolver,
		ledger:      ledger,
		tracker:     tracker,
		client:      client,
		authCache:   cache.New[models.User](authCacheTTL),
	}
}

// Authenticate resolves an API key to its active owner. Lookups are cached
// briefly; a suspended owner is rejected even when served from cache.
func (o *Orchestrator) Authenticate(ctx context.Context, apiKey string) (*models.User, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	if cached, ok := o.authCache.Get(apiKey); ok {
		if !cached.IsActive() {
			return nil, ErrUserSuspended
		}
		user := cached
		return &user, nil
	}

	var key models.APIKey
	errFind := o.db.WithContext(ctx).Preload("User").First(&key, "api_key = ?", apiKey).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("orchestrator: lookup api key: %w", errFind)
	}
	if key.User == nil {
		return nil, ErrInvalidAPIKey
	}

	o.authCache.Set(apiKey, *key.User)
	if !key.User.IsActive() {
		return nil, ErrUserSuspended
	}
	user := *key.User
	return &user, nil
}

// InvalidateAuth drops all cached API-key lookups. Called after any admin
// mutation of users or keys.
func (o *Orchestrator) InvalidateAuth() {
	o.authCache.Clear()
}

// dispatched carries the state shared by the streaming and non-streaming
// paths after a successful upstream call.
type dispatched struct {
	response     *upstream.Response
	credentialID string
	model        string
}

// dispatch runs every pre-flight step and the upstream call. Any failure here
// short-circuits: no usage is recorded and no body is left open.
func (o *Orchestrator) dispatch(ctx context.Context, user *models.User, req *upstream.ChatCompletionRequest, stream bool) (*dispatched, error) {
	reason, errCheck := o.ledger.CheckAdmission(ctx, user.ID)
	if errCheck != nil {
		return nil, errCheck
	}
	if reason != "" {
		return nil, &AdmissionError{Reason: reason}
	}

	cred, errSelect := o.selectCredential(ctx, user)
	if errSelect != nil {
		return nil, errSelect
	}

	session, errSession := o.bridge.Session(cred)
	if errSession != nil {
		return nil, errSession
	}

	resolved, errResolve := o.resolver.Resolve(ctx, req.Model)
	if errResolve != nil {
		return nil, errResolve
	}
	req.Model = resolved
	req.Messages = truncation.RewriteMessages(o.tracker, req.Messages)

	payload, errBuild := o.client.BuildPayload(req, uuid.NewString())
	if errBuild != nil {
		return nil, errBuild
	}

	response, errSend := o.client.SendWithRetry(ctx, session, payload, stream)
	if errSend != nil {
		return nil, fmt.Errorf("orchestrator: dispatch: %w", errSend)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := readErrorMessage(response.Body)
		_ = response.Body.Close()
		return nil, &UpstreamError{StatusCode: response.StatusCode, Message: message}
	}

	return &dispatched{response: response, credentialID: cred.ID, model: resolved}, nil
}

// selectCredential honors the user's sticky assignment when that credential
// is still active, falling back to pooled round-robin otherwise.
func (o *Orchestrator) selectCredential(ctx context.Context, user *models.User) (*models.Credential, error) {
	if user.AssignedCredentialID != "" {
		cred, errGet := o.credentials.Get(ctx, user.AssignedCredentialID)
		if errGet != nil {
			return nil, errGet
		}
		if cred != nil && cred.IsActive() {
			return cred, nil
		}
		log.Warnf("assigned credential %s unavailable for user %s, falling back to pool",
			user.AssignedCredentialID, user.ID)
	}

	cred, errNext := o.credentials.Next(ctx)
	if errNext != nil {
		if errors.Is(errNext, credential.ErrNoActiveCredential) {
			return nil, ErrNoCredential
		}
		return nil, errNext
	}
	return cred, nil
}

// Complete runs a non-streaming request end to end.
func (o *Orchestrator) Complete(ctx context.Context, user *models.User, req *upstream.ChatCompletionRequest) (*upstream.ChatCompletion, error) {
	d, errDispatch := o.dispatch(ctx, user, req, false)
	if errDispatch != nil {
		return nil, errDispatch
	}
	defer func() { _ = d.response.Body.Close() }()

	completion, errCollect := o.client.CollectFullResponse(ctx, d.response.Body, d.model)
	if errCollect != nil {
		return nil, errCollect
	}

	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		if choice.FinishReason == "length" && choice.Message.Content != "" {
			o.tracker.SaveContent(choice.Message.Content)
		}
	}

	o.settle(user.ID, d.model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens, d.credentialID)
	return completion, nil
}

// Stream runs a streaming request up to the point of delivery and returns a
// session the caller drains. The caller must call Close on every exit path;
// settlement happens exactly once regardless of how the stream ends.
func (o *Orchestrator) Stream(ctx context.Context, user *models.User, req *upstream.ChatCompletionRequest) (*StreamSession, error) {
	d, errDispatch := o.dispatch(ctx, user, req, true)
	if errDispatch != nil {
		return nil, errDispatch
	}

	session := newStreamSession(o, user.ID, d)
	go session.pump(ctx)
	return session, nil
}

// settle commits usage and bumps credential and user counters. Runs on its
// own context so settlement survives client disconnects; failures after a
// delivered response are logged, never surfaced.
func (o *Orchestrator) settle(userID, model string, promptTokens, completionTokens int64, credentialID string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	// No record when upstream reported no tokens, so aborted streams never
	// count against the daily request cap.
	if promptTokens > 0 || completionTokens > 0 {
		if errRecord := o.ledger.RecordUsage(ctx, userID, model, promptTokens, completionTokens, credentialID); errRecord != nil {
			log.WithError(errRecord).Errorf("usage record failed for user %s", userID)
		}
	}
	if errMark := o.credentials.MarkUsed(ctx, credentialID); errMark != nil {
		log.WithError(errMark).Warnf("mark credential %s used failed", credentialID)
	}
	if errUser := o.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"request_count": gorm.Expr("request_count + 1"),
			"last_used_at":  time.Now().UTC(),
		}).Error; errUser != nil {
		log.WithError(errUser).Warnf("bump request count for user %s failed", userID)
	}
}

// readErrorMessage extracts a bounded, sanitized message from an upstream
// error body. Only a JSON error.message is surfaced; anything else collapses
// to a generic message so upstream internals never leak to tenants.
func readErrorMessage(body io.Reader) string {
	data, errRead := io.ReadAll(io.LimitReader(body, 2048))
	if errRead != nil || len(data) == 0 {
		return "upstream request failed"
	}
	if message := gjson.GetBytes(data, "error.message").String(); message != "" {
		return message
	}
	return "upstream request failed"
}
