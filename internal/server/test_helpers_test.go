package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/database"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/realtime"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "inadialog-test"
	testAudience      = "inadialog-test-clients"
)

type testServer struct {
	server   *httptest.Server
	store    *docstore.Service
	manager  *diagram.Manager
	presence *realtime.Store
}

type diagramResponse struct {
	Diagram    diagram.Diagram    `json:"diagram"`
	Version    int64              `json:"version"`
	ShapeID    diagram.ShapeID    `json:"shape_id"`
	RelationID diagram.RelationID `json:"relation_id"`
	Error      string             `json:"error"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithStore(t, func(store *docstore.Service) DiagramStore { return store })
}

// newTestServerWithStore lets wrap decorate the sqlite backed store before
// the editors and handlers see it.
func newTestServerWithStore(t *testing.T, wrap func(*docstore.Service) DiagramStore) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, nil, nil); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := docstore.NewService(docstore.ServiceConfig{
		Database:   db,
		IDProvider: docstore.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build document store: %v", err)
	}
	wrapped := wrap(store)
	manager, err := diagram.NewManager(diagram.ManagerConfig{Store: wrapped})
	if err != nil {
		t.Fatalf("failed to build manager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close(ctx)
	})
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	presenceStore := realtime.NewStore(realtime.Config{})

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:       tokens,
		Store:        wrapped,
		Editors:      manager,
		Presence:     presenceStore,
		FadeInterval: 10 * time.Millisecond,
		CursorColor:  "red",
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testServer{server: server, store: store, manager: manager, presence: presenceStore}
}

// signIn returns a bearer token and the anonymous user id it carries.
func (s *testServer) signIn(t *testing.T) (string, string) {
	t.Helper()
	response, err := http.Post(s.server.URL+"/auth/anonymous", "application/json", http.NoBody)
	if err != nil {
		t.Fatalf("anonymous auth request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected anonymous auth status: %d", response.StatusCode)
	}
	var payload authResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode auth response: %v", err)
	}
	if payload.AccessToken == "" || !strings.HasPrefix(payload.UserID, auth.AnonymousSubjectPrefix) {
		t.Fatalf("unexpected auth response: %+v", payload)
	}
	return payload.AccessToken, payload.UserID
}

// do sends an authorized JSON request and decodes the response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func mustCreateDiagram(t *testing.T, s *testServer, token, id string) diagram.Diagram {
	t.Helper()
	var created diagramResponse
	status := s.do(t, http.MethodPost, "/diagrams", token, createDiagramPayload{ID: id}, &created)
	if status != http.StatusCreated {
		t.Fatalf("unexpected create status %d: %s", status, created.Error)
	}
	return created.Diagram
}

func mustAddShape(t *testing.T, s *testServer, token, diagramID string, x, y float64) diagram.ShapeID {
	t.Helper()
	var added diagramResponse
	status := s.do(t, http.MethodPost, "/diagrams/"+diagramID+"/shapes", token,
		addShapePayload{Type: "rectangle", X: x, Y: y}, &added)
	if status != http.StatusCreated {
		t.Fatalf("unexpected add shape status %d: %s", status, added.Error)
	}
	return added.ShapeID
}

// waitForHostedEditors waits until the manager hosts want editors.
func waitForHostedEditors(t *testing.T, s *testServer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.manager.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d hosted editors, got %d", want, s.manager.Len())
}
