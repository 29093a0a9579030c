package upstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apollohq/apollo-gateway/internal/models"
)

// expirySkew refreshes the cached token slightly before its recorded expiry.
const expirySkew = 2 * time.Minute

// BearerSession is the default AuthSession: it serves the credential's stored
// access token and treats the recorded expiry as advisory. Providers with a
// real refresh flow supply their own SessionFactory; this one only fails at
// call time once the stored material is both missing and expired.
type BearerSession struct {
	mu         sync.Mutex
	access     string
	refresh    string
	expiresAt  time.Time
	credential string
}

// NewBearerSessionFactory returns a SessionFactory producing BearerSessions.
func NewBearerSessionFactory() SessionFactory {
	return bearerFactory{}
}

type bearerFactory struct{}

func (bearerFactory) NewSession(credential *models.Credential) (AuthSession, error) {
	if credential == nil {
		return nil, fmt.Errorf("upstream: nil credential")
	}
	session := &BearerSession{
		access:     strings.TrimSpace(credential.AccessToken),
		refresh:    strings.TrimSpace(credential.RefreshToken),
		credential: credential.ID,
	}
	if raw := strings.TrimSpace(credential.ExpiresAt); raw != "" {
		if parsed, errParse := time.Parse(time.RFC3339, raw); errParse == nil {
			session.expiresAt = parsed
		}
	}
	return session, nil
}

// AccessToken returns the stored token. An unknown expiry is treated as
// still valid; the upstream rejects stale tokens with a status the
// orchestrator surfaces.
func (s *BearerSession) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access == "" && s.refresh == "" {
		return "", fmt.Errorf("upstream: credential %s has no token material", s.credential)
	}
	if s.access == "" {
		return s.refresh, nil
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt.Add(-expirySkew)) && s.refresh == "" {
		return "", fmt.Errorf("upstream: credential %s access token expired", s.credential)
	}
	return s.access, nil
}

// Headers builds the upstream auth headers.
func (s *BearerSession) Headers(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}
