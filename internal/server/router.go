package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/users"
)

const (
	userIDContextKey      = "inadialog_user_id"
	cursorColorContextKey = "inadialog_cursor_color"

	accessTokenQueryParam = "access_token"
	allOrigins            = "*"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDiagramStore  = errors.New("diagram store dependency required")
	errMissingEditors       = errors.New("diagram editors dependency required")
	errMissingPresenceStore = errors.New("presence store dependency required")
	errMissingUsers         = errors.New("users dependency required when sessions are enabled")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend tokens.
type TokenManager interface {
	IssueAnonymous(ctx context.Context) (auth.IssuedToken, error)
	ValidateToken(token string) (auth.Principal, error)
}

// SessionValidator validates session cookies.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims to canonical identities.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims auth.SessionClaims) (users.Identity, error)
}

// DiagramStore is the document store as seen by the HTTP surface.
type DiagramStore interface {
	diagram.DocumentStore
	ListByAuthor(ctx context.Context, authorID string) ([]diagram.Diagram, error)
}

// EditorProvider hands out the single running editor of a diagram. Every
// successful Open must be paired with a call to the returned release func.
type EditorProvider interface {
	Open(ctx context.Context, id string) (*diagram.Editor, func(), error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Tokens         TokenManager
	Sessions       SessionValidator
	Users          IdentityResolver
	Store          DiagramStore
	Editors        EditorProvider
	Presence       presence.Store
	FadeInterval   time.Duration
	CursorColor    string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingDiagramStore
	}
	if deps.Editors == nil {
		return nil, errMissingEditors
	}
	if deps.Presence == nil {
		return nil, errMissingPresenceStore
	}
	if deps.Sessions != nil && deps.Users == nil {
		return nil, errMissingUsers
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{allOrigins}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		tokens:       deps.Tokens,
		sessions:     deps.Sessions,
		users:        deps.Users,
		store:        deps.Store,
		editors:      deps.Editors,
		presence:     deps.Presence,
		fadeInterval: deps.FadeInterval,
		cursorColor:  deps.CursorColor,
		origins:      origins,
		logger:       logger,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/auth/anonymous", handler.handleAnonymousAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/diagrams", handler.handleListDiagrams)
	protected.POST("/diagrams", handler.handleCreateDiagram)
	protected.GET("/diagrams/:id", handler.handleGetDiagram)
	protected.GET("/diagrams/:id/stream", handler.handleDiagramStream)
	protected.POST("/diagrams/:id/shapes", handler.handleAddShape)
	protected.PATCH("/diagrams/:id/shapes/:shapeId", handler.handleUpdateShape)
	protected.DELETE("/diagrams/:id/shapes/:shapeId", handler.handleRemoveShape)
	protected.POST("/diagrams/:id/relations", handler.handleAddRelation)
	protected.PATCH("/diagrams/:id/relations/:relationId", handler.handleUpdateRelation)
	protected.DELETE("/diagrams/:id/relations/:relationId", handler.handleRemoveRelation)
	protected.POST("/diagrams/:id/clear", handler.handleClear)
	protected.PUT("/diagrams/:id/visibility", handler.handleVisibility)
	protected.GET("/presence", handler.handlePresence)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if slices.Contains(origins, allOrigins) {
		// echo the caller's origin so cookies still work
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens       TokenManager
	sessions     SessionValidator
	users        IdentityResolver
	store        DiagramStore
	editors      EditorProvider
	presence     presence.Store
	fadeInterval time.Duration
	cursorColor  string
	origins      []string
	logger       *zap.Logger
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAnonymousAuth(c *gin.Context) {
	issued, err := h.tokens.IssueAnonymous(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to issue anonymous token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: issued.AccessToken,
		ExpiresIn:   issued.ExpiresIn,
		TokenType:   auth.TokenType,
		UserID:      issued.Subject,
	})
}

// authorizeRequest accepts a bearer header, an access_token query parameter
// (EventSource and WebSocket clients cannot set headers) or a session cookie.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, hasToken := requestToken(c)
	if hasToken {
		principal, err := h.tokens.ValidateToken(token)
		if err != nil {
			h.logTokenFailure(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDContextKey, principal.Subject)
		c.Next()
		return
	}

	if h.sessions != nil {
		claims, err := h.sessions.ValidateRequest(c.Request)
		if err == nil {
			identity, resolveErr := h.users.Resolve(c.Request.Context(), claims)
			if resolveErr != nil {
				h.logger.Error("failed to resolve session identity", zap.Error(resolveErr))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_failed"})
				return
			}
			c.Set(userIDContextKey, identity.UserID)
			c.Set(cursorColorContextKey, identity.CursorColor)
			c.Next()
			return
		}
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logTokenFailure(err)
		}
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrExpiredSessionToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

func requestToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		return token, ok && token != ""
	}
	if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
		return token, true
	}
	return "", false
}
