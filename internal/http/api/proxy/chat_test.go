package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/db"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"
	"github.com/apollohq/apollo-gateway/internal/upstream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFactory struct{}

type fakeSession struct{}

func (fakeSession) AccessToken(ctx context.Context) (string, error) { return "t", nil }
func (fakeSession) Headers(token string) map[string]string          { return nil }

func (fakeFactory) NewSession(*models.Credential) (upstream.AuthSession, error) {
	return fakeSession{}, nil
}

func newProxyEngine(t *testing.T, user *models.User, seedCredential bool) (*gin.Engine, *gorm.DB) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	if errCreate := conn.Create(user).Error; errCreate != nil {
		t.Fatalf("seed user: %v", errCreate)
	}

	store := credential.NewStore(conn)
	if seedCredential {
		if _, _, errAdd := store.Add(context.Background(), credential.AddInput{ClientIDHash: "fp"}); errAdd != nil {
			t.Fatalf("add credential: %v", errAdd)
		}
	}

	resolver := alias.NewResolver(conn)
	if errSeed := resolver.SeedBuiltins(context.Background()); errSeed != nil {
		t.Fatalf("seed builtins: %v", errSeed)
	}

	// The protocol client is never reached in these tests; every scenario
	// fails before dispatch.
	o := orchestrator.New(conn, store, credential.NewBridge(fakeFactory{}), resolver,
		quota.NewLedger(conn), truncation.NewTracker(), upstream.NewHTTPClient("http://127.0.0.1:0", 0))
	handler := NewHandler(o, resolver)

	engine := gin.New()
	engine.POST("/v1/chat/completions", func(c *gin.Context) {
		c.Set("user", user)
		handler.ChatCompletions(c)
	})
	engine.GET("/v1/models", handler.Models)
	return engine, conn
}

func postChat(t *testing.T, engine *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, errMarshal := json.Marshal(body)
	if errMarshal != nil {
		t.Fatalf("marshal: %v", errMarshal)
	}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(recorder, request)
	return recorder
}

func TestChatCompletionsRejectsEmptyRequest(t *testing.T) {
	engine, _ := newProxyEngine(t, &models.User{
		ID: "u1", Name: "a", LoginToken: "lt", Status: models.UserStatusActive, TokenBalance: 100,
	}, true)

	recorder := postChat(t, engine, gin.H{"model": "", "messages": []any{}})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestChatCompletionsQuotaDenialIs429(t *testing.T) {
	engine, _ := newProxyEngine(t, &models.User{
		ID: "u2", Name: "b", LoginToken: "lt2", Status: models.UserStatusActive,
		TokenBalance: 0, TokenGranted: 500,
	}, true)

	recorder := postChat(t, engine, gin.H{
		"model":    "kiro-haiku",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if body := recorder.Body.String(); !bytes.Contains([]byte(body), []byte("Token balance exhausted")) {
		t.Fatalf("reason not surfaced: %s", body)
	}
}

func TestChatCompletionsEmptyPoolIs503(t *testing.T) {
	engine, _ := newProxyEngine(t, &models.User{
		ID: "u3", Name: "c", LoginToken: "lt3", Status: models.UserStatusActive, TokenBalance: 100,
	}, false)

	recorder := postChat(t, engine, gin.H{
		"model":    "kiro-haiku",
		"messages": []gin.H{{"role": "user", "content": "hi"}},
	})
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
}

func TestModelsListsAliases(t *testing.T) {
	engine, _ := newProxyEngine(t, &models.User{
		ID: "u4", Name: "d", LoginToken: "lt4", Status: models.UserStatusActive, TokenBalance: 100,
	}, true)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	engine.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var payload struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &payload); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if payload.Object != "list" || len(payload.Data) != len(alias.Builtins) {
		t.Fatalf("unexpected model list %+v", payload)
	}
}
