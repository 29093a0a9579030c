package credential

import (
	"fmt"
	"sync"

	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/upstream"

	log "github.com/sirupsen/logrus"
)

// Bridge lazily instantiates and caches one auth session per credential id.
// Sessions live for the process lifetime; Evict must be called whenever the
// underlying credential is deleted or rotated, or a stale session could keep
// serving a revoked credential.
type Bridge struct {
	factory upstream.SessionFactory

	mu       sync.Mutex
	sessions map[string]upstream.AuthSession
}

// NewBridge constructs a Bridge around the given session factory.
func NewBridge(factory upstream.SessionFactory) *Bridge {
	return &Bridge{
		factory:  factory,
		sessions: make(map[string]upstream.AuthSession),
	}
}

// Session returns the cached auth session for the credential, creating it on
// first use. Repeated calls for the same id return the same session object.
func (b *Bridge) Session(credential *models.Credential) (upstream.AuthSession, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential: nil credential")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if session, ok := b.sessions[credential.ID]; ok {
		return session, nil
	}

	session, errNew := b.factory.NewSession(credential)
	if errNew != nil {
		return nil, fmt.Errorf("credential: create session for %s: %w", credential.ID, errNew)
	}
	b.sessions[credential.ID] = session
	log.Debugf("auth session created for credential %s", credential.ID)
	return session, nil
}

// Evict drops the cached session for a credential id.
func (b *Bridge) Evict(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

// Len returns the number of cached sessions.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
