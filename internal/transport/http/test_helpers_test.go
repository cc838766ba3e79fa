package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/socialwire-server/internal/auth"
	"github.com/vovakirdan/socialwire-server/internal/config"
	"github.com/vovakirdan/socialwire-server/internal/core"
	"github.com/vovakirdan/socialwire-server/internal/feed"
	"github.com/vovakirdan/socialwire-server/internal/proto"
	"github.com/vovakirdan/socialwire-server/internal/store"
	"github.com/vovakirdan/socialwire-server/internal/store/sqlite"
)

type testEnv struct {
	ts        *httptest.Server
	hub       *core.Hub
	store     store.Store
	publisher *feed.Publisher
	jwtCfg    *auth.JWTConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	disabledLogger := zerolog.New(nil)

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}

	cfg := config.Default()
	cfg.FeedHeartbeat = 100 * time.Millisecond

	hub := core.NewHub(st, &disabledLogger, cfg.MessageMaxLen, cfg.EventBuffer)
	t.Cleanup(hub.Close)
	publisher := feed.NewPublisher(8, &disabledLogger)
	server := NewServer(hub, auth.NewJWTVerifier(jwtCfg), st, publisher, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, store: st, publisher: publisher, jwtCfg: jwtCfg}
}

func (e *testEnv) tokenFor(t *testing.T, user *store.User) string {
	t.Helper()

	token, err := auth.GenerateToken(e.jwtCfg, user.ID, user.Username)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

func (e *testEnv) dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := e.wsURL()
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func (e *testEnv) seedUser(t *testing.T, username string) *store.User {
	t.Helper()

	user, err := e.store.CreateUser(context.Background(), username, username, "")
	if err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}

func (e *testEnv) seedDirectConversation(t *testing.T, user1, user2 int64) *store.Conversation {
	t.Helper()

	conv, _, err := e.store.FindOrCreateDirectConversation(context.Background(), user1, user2)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return conv
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// waitForOutbound reads frames until one matches the predicate, skipping
// unrelated events such as presence updates racing with the assertion.
func waitForOutbound(t *testing.T, conn *websocket.Conn, match func(proto.Outbound) bool) proto.Outbound {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if match(out) {
			return out
		}
	}
}

func waitForEvent(t *testing.T, conn *websocket.Conn, event string) proto.Outbound {
	t.Helper()
	return waitForOutbound(t, conn, func(out proto.Outbound) bool {
		return out.Type == proto.OutboundTypeEvent && out.Event == event
	})
}

func waitForError(t *testing.T, conn *websocket.Conn) proto.Outbound {
	t.Helper()
	return waitForOutbound(t, conn, func(out proto.Outbound) bool {
		return out.Type == proto.OutboundTypeError
	})
}
