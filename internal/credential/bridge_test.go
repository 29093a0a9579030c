package credential

import (
	"context"
	"testing"

	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/upstream"
)

// staticSession is a trivial AuthSession for bridge tests.
type staticSession struct {
	id string
}

func (s *staticSession) AccessToken(ctx context.Context) (string, error) { return "token-" + s.id, nil }

func (s *staticSession) Headers(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}

// countingFactory tracks how many sessions it created.
type countingFactory struct {
	created int
}

func (f *countingFactory) NewSession(credential *models.Credential) (upstream.AuthSession, error) {
	f.created++
	return &staticSession{id: credential.ID}, nil
}

func TestBridgeCachesSessionPerCredential(t *testing.T) {
	factory := &countingFactory{}
	bridge := NewBridge(factory)
	cred := &models.Credential{ID: "cred-1"}

	first, errSession := bridge.Session(cred)
	if errSession != nil {
		t.Fatalf("session: %v", errSession)
	}
	second, errSession := bridge.Session(cred)
	if errSession != nil {
		t.Fatalf("session: %v", errSession)
	}
	if first != second {
		t.Fatal("expected the same session object on repeated calls")
	}
	if factory.created != 1 {
		t.Fatalf("expected 1 created session, got %d", factory.created)
	}
}

func TestBridgeEvictForcesRecreate(t *testing.T) {
	factory := &countingFactory{}
	bridge := NewBridge(factory)
	cred := &models.Credential{ID: "cred-2"}

	if _, errSession := bridge.Session(cred); errSession != nil {
		t.Fatalf("session: %v", errSession)
	}
	bridge.Evict(cred.ID)
	if bridge.Len() != 0 {
		t.Fatalf("expected empty bridge after evict, got %d", bridge.Len())
	}
	if _, errSession := bridge.Session(cred); errSession != nil {
		t.Fatalf("session after evict: %v", errSession)
	}
	if factory.created != 2 {
		t.Fatalf("expected recreate after evict, created=%d", factory.created)
	}
}
