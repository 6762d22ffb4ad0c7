package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialPresence(t *testing.T, server *testServer, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.server.URL, "http") + "/presence?access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial presence socket: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, message clientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, message); err != nil {
		t.Fatalf("failed to send %s: %v", message.Type, err)
	}
}

// waitForMessage reads until match accepts a message.
func waitForMessage(t *testing.T, conn *websocket.Conn, description string, match func(serverMessage) bool) serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var message serverMessage
		if err := wsjson.Read(ctx, conn, &message); err != nil {
			t.Fatalf("waiting for %s: %v", description, err)
		}
		if match(message) {
			return message
		}
	}
}

func TestPresenceSocketSharesCursorsAndTrails(t *testing.T) {
	server := newTestServer(t)
	tokenA, _ := server.signIn(t)
	tokenB, _ := server.signIn(t)
	mustCreateDiagram(t, server, tokenA, "board")

	connA := dialPresence(t, server, tokenA)
	connB := dialPresence(t, server, tokenB)

	welcomeA := waitForMessage(t, connA, "welcome", func(m serverMessage) bool { return m.Type == messageWelcome })
	if welcomeA.SessionID == "" || welcomeA.Color != "red" {
		t.Fatalf("unexpected welcome: %+v", welcomeA)
	}
	welcomeB := waitForMessage(t, connB, "welcome", func(m serverMessage) bool { return m.Type == messageWelcome })
	if welcomeB.SessionID == welcomeA.SessionID {
		t.Fatalf("expected distinct session ids")
	}

	sendMessage(t, connA, clientMessage{Type: messageAttach, DiagramID: "board"})
	sendMessage(t, connB, clientMessage{Type: messageAttach, DiagramID: "board"})
	sendMessage(t, connA, clientMessage{Type: messageCursor, X: 10, Y: 20})

	waitForMessage(t, connB, "cursor of A", func(m serverMessage) bool {
		if m.Type != messagePresenceOthers || m.DiagramID != "board" {
			return false
		}
		for _, peer := range m.Peers {
			if peer.SessionID == welcomeA.SessionID && peer.Cursor.X == 10 && peer.Cursor.Y == 20 {
				return peer.Cursor.Color == "red"
			}
		}
		return false
	})

	sendMessage(t, connA, clientMessage{Type: messageTrailPart, D: "M 1 1 L 2 2"})
	waitForMessage(t, connB, "trail of A", func(m serverMessage) bool {
		if m.Type != messageTrailOthers {
			return false
		}
		for _, trail := range m.Trails {
			if trail.Cursor == welcomeA.SessionID && trail.D == "M 1 1 L 2 2" {
				return true
			}
		}
		return false
	})

	if err := connA.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("failed to close connection: %v", err)
	}
	waitForMessage(t, connB, "departure of A", func(m serverMessage) bool {
		if m.Type != messagePresenceOthers {
			return false
		}
		for _, peer := range m.Peers {
			if peer.SessionID == welcomeA.SessionID {
				return false
			}
		}
		return true
	})
}

func TestPresenceSocketSendsEmptyListsExplicitly(t *testing.T) {
	server := newTestServer(t)
	token, _ := server.signIn(t)
	mustCreateDiagram(t, server, token, "lonely")

	conn := dialPresence(t, server, token)
	waitForMessage(t, conn, "welcome", func(m serverMessage) bool { return m.Type == messageWelcome })
	sendMessage(t, conn, clientMessage{Type: messageAttach, DiagramID: "lonely"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	want := map[string]string{
		messagePresenceOthers: "peers",
		messageTrailOthers:    "trails",
	}
	for len(want) > 0 {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for empty lists: %v", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("failed to decode message %s: %v", data, err)
		}
		var messageType string
		if err := json.Unmarshal(fields["type"], &messageType); err != nil {
			t.Fatalf("message without type: %s", data)
		}
		field, ok := want[messageType]
		if !ok {
			continue
		}
		if string(fields[field]) != "[]" {
			t.Fatalf("expected %s to carry an empty %s list, got %s", messageType, field, data)
		}
		delete(want, messageType)
	}
}

func TestPresenceSocketReportsErrors(t *testing.T) {
	server := newTestServer(t)
	token, _ := server.signIn(t)

	conn := dialPresence(t, server, token)
	waitForMessage(t, conn, "welcome", func(m serverMessage) bool { return m.Type == messageWelcome })

	cases := []struct {
		message clientMessage
		reason  string
	}{
		{message: clientMessage{Type: messageTrailPart, D: "M 0 0"}, reason: "not_attached"},
		{message: clientMessage{Type: messageAttach}, reason: "missing_diagram_id"},
		{message: clientMessage{Type: messageAttach, DiagramID: "missing"}, reason: "not_found"},
		{message: clientMessage{Type: messageColor, Color: "purple"}, reason: "invalid_color"},
		{message: clientMessage{Type: "wave"}, reason: "unknown_type"},
	}
	for _, testCase := range cases {
		sendMessage(t, conn, testCase.message)
		reply := waitForMessage(t, conn, testCase.reason, func(m serverMessage) bool { return m.Type == messageError })
		if reply.Error != testCase.reason {
			t.Fatalf("expected %q for %+v, got %q", testCase.reason, testCase.message, reply.Error)
		}
	}
}

func TestPresenceSocketRequiresAuthorization(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(server.server.URL, "http") + "/presence"
	conn, response, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		conn.CloseNow()
		t.Fatalf("expected dial without credentials to fail")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", response)
	}
}
