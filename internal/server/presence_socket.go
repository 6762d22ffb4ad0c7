package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/geometry"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/presence"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPingPeriod = 30 * time.Second
	socketReadLimit  = 64 * 1024
	socketSendBuffer = 64
	detachTimeout    = 5 * time.Second

	messageAttach      = "attach"
	messageCursor      = "cursor"
	messageColor       = "color"
	messageTrailPoint  = "trail.point"
	messageTrailPart   = "trail.part"
	messageTrailCommit = "trail.commit"

	messageWelcome        = "welcome"
	messagePresenceOthers = "presence.others"
	messageTrailOthers    = "trail.others"
	messageError          = "error"
)

type clientMessage struct {
	Type      string  `json:"type"`
	DiagramID string  `json:"diagram_id,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Color     string  `json:"color,omitempty"`
	D         string  `json:"d,omitempty"`
}

type serverMessage struct {
	Type      string                `json:"type"`
	SessionID string                `json:"session_id,omitempty"`
	DiagramID string                `json:"diagram_id,omitempty"`
	Color     string                `json:"color,omitempty"`
	Peers     []presence.Peer       `json:"peers,omitzero"`
	Trails    []presence.TrailEntry `json:"trails,omitzero"`
	Error     string                `json:"error,omitempty"`
}

// presenceConnection is one websocket client. Messages are handled in the
// read loop; subscription feeds only enqueue outgoing messages.
type presenceConnection struct {
	handler *httpHandler
	conn    *websocket.Conn
	send    chan []byte
	session *presence.Session
	logger  *zap.Logger
	userID  string
	color   string

	trail     *presence.Trail
	path      *presence.TrailPath
	stopFeeds func()
}

func (h *httpHandler) handlePresence(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	color := h.sessionColor(c.GetString(cursorColorContextKey))

	conn, err := websocket.Accept(c.Writer, c.Request, h.acceptOptions())
	if err != nil {
		h.logger.Warn("presence websocket accept failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	session, err := presence.NewSession(presence.SessionConfig{
		Store:  h.presence,
		Color:  color,
		Logger: h.logger,
	})
	if err != nil {
		h.logger.Error("presence session setup failed", zap.Error(err))
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	client := &presenceConnection{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, socketSendBuffer),
		session: session,
		logger:  h.logger.With(zap.String("session_id", session.ID()), zap.String("user_id", userID)),
		userID:  userID,
		color:   color,
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go client.writePump(ctx)

	client.enqueue(serverMessage{Type: messageWelcome, SessionID: session.ID(), Color: color})
	client.readPump(ctx)
	client.shutdown()
}

func (h *httpHandler) sessionColor(preferred string) string {
	for _, candidate := range []string{preferred, h.cursorColor} {
		if color, err := diagram.ParseColor(candidate); err == nil {
			return string(color)
		}
	}
	return presence.DefaultColor
}

func (h *httpHandler) acceptOptions() *websocket.AcceptOptions {
	if slices.Contains(h.origins, allOrigins) {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(h.origins))
	for _, origin := range h.origins {
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			patterns = append(patterns, parsed.Host)
			continue
		}
		patterns = append(patterns, origin)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

func (p *presenceConnection) readPump(ctx context.Context) {
	p.conn.SetReadLimit(socketReadLimit)
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				p.logger.Debug("presence read failed", zap.Error(err))
			}
			return
		}
		var message clientMessage
		if err := json.Unmarshal(data, &message); err != nil {
			p.enqueue(serverMessage{Type: messageError, Error: "invalid_message"})
			continue
		}
		p.handle(ctx, message)
	}
}

func (p *presenceConnection) writePump(ctx context.Context) {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-p.send:
			writeCtx, cancel := context.WithTimeout(ctx, socketWriteWait)
			err := p.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				p.logger.Debug("presence write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, socketWriteWait)
			err := p.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *presenceConnection) enqueue(message serverMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		p.logger.Error("presence message encode failed", zap.Error(err))
		return
	}
	select {
	case p.send <- data:
	default:
		p.logger.Warn("presence send buffer full, dropping message", zap.String("type", message.Type))
	}
}

func (p *presenceConnection) fail(reason string) {
	p.enqueue(serverMessage{Type: messageError, Error: reason})
}

func (p *presenceConnection) handle(ctx context.Context, message clientMessage) {
	switch message.Type {
	case messageAttach:
		p.attach(ctx, strings.TrimSpace(message.DiagramID))
	case messageCursor:
		p.session.UpdatePosition(ctx, message.X, message.Y)
	case messageColor:
		color, err := diagram.ParseColor(message.Color)
		if err != nil {
			p.fail("invalid_color")
			return
		}
		p.session.ChangeColor(ctx, string(color))
	case messageTrailPoint:
		if p.trail == nil {
			p.fail("not_attached")
			return
		}
		point := geometry.Point{X: message.X, Y: message.Y}
		if p.path == nil {
			p.path = presence.NewTrailPath(point)
			return
		}
		p.trail.AddPart(ctx, p.path.Append(point))
	case messageTrailPart:
		if p.trail == nil {
			p.fail("not_attached")
			return
		}
		p.trail.AddPart(ctx, message.D)
	case messageTrailCommit:
		if p.trail == nil {
			p.fail("not_attached")
			return
		}
		p.trail.Commit()
		p.path = nil
	default:
		p.fail("unknown_type")
	}
}

// attach moves the session and its trail to diagramID and restarts the feeds.
func (p *presenceConnection) attach(ctx context.Context, diagramID string) {
	if diagramID == "" {
		p.fail("missing_diagram_id")
		return
	}
	event, err := p.handler.store.Load(ctx, diagramID)
	if errors.Is(err, docstore.ErrNotFound) || (err == nil && !canView(event.Diagram, p.userID)) {
		p.fail("not_found")
		return
	}
	if err != nil {
		p.logger.Error("presence diagram lookup failed", zap.String("diagram_id", diagramID), zap.Error(err))
		p.fail("attach_failed")
		return
	}

	p.closeDiagram(ctx)
	if err := p.session.Attach(ctx, diagramID); err != nil {
		p.fail("attach_failed")
		return
	}
	trail, err := presence.NewTrail(presence.TrailConfig{
		Store:        p.handler.presence,
		SessionID:    p.session.ID(),
		DiagramID:    diagramID,
		Color:        p.color,
		FadeInterval: p.handler.fadeInterval,
		Logger:       p.handler.logger,
	})
	if err != nil {
		p.fail("attach_failed")
		return
	}
	p.trail = trail

	feedCtx, cancel := context.WithCancel(ctx)
	peers, stopPeers, err := p.session.Others(feedCtx)
	if err != nil {
		cancel()
		p.fail("attach_failed")
		return
	}
	trails, stopTrails, err := trail.Others(feedCtx)
	if err != nil {
		stopPeers()
		cancel()
		p.fail("attach_failed")
		return
	}
	p.stopFeeds = func() {
		cancel()
		stopPeers()
		stopTrails()
	}

	go func() {
		for list := range peers {
			p.enqueue(serverMessage{Type: messagePresenceOthers, DiagramID: diagramID, Peers: list})
		}
	}()
	go func() {
		for list := range trails {
			p.enqueue(serverMessage{Type: messageTrailOthers, DiagramID: diagramID, Trails: list})
		}
	}()
}

func (p *presenceConnection) closeDiagram(ctx context.Context) {
	if p.stopFeeds != nil {
		p.stopFeeds()
		p.stopFeeds = nil
	}
	if p.trail != nil {
		p.trail.Close(ctx)
		p.trail = nil
	}
	p.path = nil
}

// shutdown runs after the socket is gone, so it must not use the request context.
func (p *presenceConnection) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	p.closeDiagram(ctx)
	p.session.Detach(ctx)
	p.conn.Close(websocket.StatusNormalClosure, "")
}
