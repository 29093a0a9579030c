package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apollohq/apollo-gateway/internal/alias"
	"github.com/apollohq/apollo-gateway/internal/credential"
	"github.com/apollohq/apollo-gateway/internal/db"
	"github.com/apollohq/apollo-gateway/internal/models"
	"github.com/apollohq/apollo-gateway/internal/orchestrator"
	"github.com/apollohq/apollo-gateway/internal/quota"
	"github.com/apollohq/apollo-gateway/internal/truncation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAdminEngine(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	store := credential.NewStore(conn)
	ledger := quota.NewLedger(conn)
	o := orchestrator.New(conn, store, nil, alias.NewResolver(conn), ledger, truncation.NewTracker(), nil)

	engine := gin.New()
	RegisterAdminRoutes(engine, Deps{
		DB:           conn,
		Store:        store,
		Bridge:       credential.NewBridge(nil),
		Resolver:     alias.NewResolver(conn),
		Ledger:       ledger,
		Tracker:      truncation.NewTracker(),
		Orchestrator: o,
	}, func(c *gin.Context) { c.Next() }) // auth bypassed; middleware has its own tests
	return engine, conn
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(recorder, request)
	return recorder
}

func TestUserLifecycle(t *testing.T) {
	engine, conn := newAdminEngine(t)

	// Create with an initial grant.
	recorder := doJSON(t, engine, http.MethodPost, "/admin/users", gin.H{
		"name":       "acme",
		"tokenGrant": 1000,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created struct {
		UserID     string `json:"user_id"`
		LoginToken string `json:"login_token"`
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode create response: %v", errDecode)
	}
	if !strings.HasPrefix(created.LoginToken, "apollo-") {
		t.Fatalf("unexpected login token %q", created.LoginToken)
	}

	var user models.User
	if errFind := conn.First(&user, "id = ?", created.UserID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.TokenBalance != 1000 || user.TokenGranted != 1000 {
		t.Fatalf("initial grant not applied: %+v", user)
	}

	// Grant more tokens.
	recorder = doJSON(t, engine, http.MethodPost, "/admin/users/"+created.UserID+"/grant", gin.H{"amount": 500})
	if recorder.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d", recorder.Code)
	}

	// Tighten quotas.
	recorder = doJSON(t, engine, http.MethodPut, "/admin/users/"+created.UserID+"/quota", gin.H{"dailyRequests": 10})
	if recorder.Code != http.StatusOK {
		t.Fatalf("quota: expected 200, got %d", recorder.Code)
	}

	// Suspend.
	recorder = doJSON(t, engine, http.MethodPut, "/admin/users/"+created.UserID+"/status", gin.H{"status": "suspended"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", recorder.Code)
	}

	if errFind := conn.First(&user, "id = ?", created.UserID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if user.TokenBalance != 1500 || user.QuotaDailyRequests != 10 || user.Status != models.UserStatusSuspended {
		t.Fatalf("mutations not applied: %+v", user)
	}

	// Remove.
	recorder = doJSON(t, engine, http.MethodDelete, "/admin/users/"+created.UserID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", recorder.Code)
	}
	if errFind := conn.First(&user, "id = ?", created.UserID).Error; errFind != gorm.ErrRecordNotFound {
		t.Fatalf("expected user gone, got %v", errFind)
	}
}

func TestUserEndpointsNotFound(t *testing.T) {
	engine, _ := newAdminEngine(t)

	recorder := doJSON(t, engine, http.MethodPost, "/admin/users/missing/grant", gin.H{"amount": 1})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("grant missing user: expected 404, got %d", recorder.Code)
	}
	recorder = doJSON(t, engine, http.MethodDelete, "/admin/users/missing", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("remove missing user: expected 404, got %d", recorder.Code)
	}
	recorder = doJSON(t, engine, http.MethodGet, "/admin/users/missing/usage", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("usage missing user: expected 404, got %d", recorder.Code)
	}
}

func TestListUsersTruncatesLoginToken(t *testing.T) {
	engine, _ := newAdminEngine(t)

	recorder := doJSON(t, engine, http.MethodPost, "/admin/users", gin.H{"name": "acme"})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", recorder.Code)
	}
	var created struct {
		LoginToken string `json:"login_token"`
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &created); errDecode != nil {
		t.Fatalf("decode create response: %v", errDecode)
	}

	recorder = doJSON(t, engine, http.MethodGet, "/admin/users", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), created.LoginToken) {
		t.Fatal("listing must not expose the full login token")
	}

	var listed struct {
		Users []struct {
			LoginToken string `json:"login_token"`
		} `json:"users"`
	}
	if errDecode := json.Unmarshal(recorder.Body.Bytes(), &listed); errDecode != nil {
		t.Fatalf("decode list response: %v", errDecode)
	}
	if len(listed.Users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(listed.Users))
	}
	want := created.LoginToken[:12] + "..."
	if listed.Users[0].LoginToken != want {
		t.Fatalf("expected truncated token %q, got %q", want, listed.Users[0].LoginToken)
	}
}

func TestCreateUserValidatesName(t *testing.T) {
	engine, _ := newAdminEngine(t)
	recorder := doJSON(t, engine, http.MethodPost, "/admin/users", gin.H{"name": "  "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", recorder.Code)
	}
}

func TestAliasAdminRefusesBuiltinRemoval(t *testing.T) {
	engine, conn := newAdminEngine(t)
	resolver := alias.NewResolver(conn)
	if errSeed := resolver.SeedBuiltins(context.Background()); errSeed != nil {
		t.Fatalf("seed builtins: %v", errSeed)
	}

	recorder := doJSON(t, engine, http.MethodDelete, "/admin/aliases/kiro-auto", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for builtin removal, got %d", recorder.Code)
	}

	recorder = doJSON(t, engine, http.MethodPost, "/admin/aliases", gin.H{
		"name":    "team-fast",
		"targets": []string{"claude-haiku-4.5"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("set alias: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	recorder = doJSON(t, engine, http.MethodDelete, "/admin/aliases/team-fast", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove custom alias: expected 200, got %d", recorder.Code)
	}
}
