package pods_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quietcove/podhub/internal/app/engine"
	podsfeature "github.com/quietcove/podhub/internal/app/features/pods"
	"github.com/quietcove/podhub/internal/app/store/memstore"
	"github.com/quietcove/podhub/internal/app/system/identity"
	"github.com/quietcove/podhub/internal/domain/models"
)

func dialStream(t *testing.T, srv *httptest.Server, podID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + podID + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStreamMessage(t *testing.T, conn *websocket.Conn) models.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m models.Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read stream message: %v", err)
	}
	return m
}

func TestStream_BacklogLiveAndInbound(t *testing.T) {
	st := memstore.New(zap.NewNop())
	eng := engine.New(st, st, st, zap.NewNop())
	h := podsfeature.NewHandler(eng, identity.Static("user-a"), zap.NewNop())
	srv := httptest.NewServer(podsfeature.Routes(h))
	defer srv.Close()

	ctx := context.Background()
	podID, err := eng.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	if err != nil {
		t.Fatalf("FindOrCreatePod: %v", err)
	}

	conn := dialStream(t, srv, podID)

	// Backlog: the welcome message is replayed on connect.
	m := readStreamMessage(t, conn)
	if m.Kind != models.MessageKindSystem {
		t.Fatalf("backlog kind = %q, want system", m.Kind)
	}

	// Live: a message posted after connect arrives on the open socket,
	// well past the handler's return.
	if _, err := eng.SendMessage(ctx, podID, "user-a", "posted after connect"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	m = readStreamMessage(t, conn)
	if m.Text != "posted after connect" {
		t.Fatalf("live message = %q, want %q", m.Text, "posted after connect")
	}

	// Inbound: a frame written to the socket is posted to the pod as the
	// caller and echoed back on the stream.
	if err := conn.WriteJSON(map[string]string{"text": "from the socket"}); err != nil {
		t.Fatalf("write inbound frame: %v", err)
	}
	m = readStreamMessage(t, conn)
	if m.Text != "from the socket" {
		t.Fatalf("echoed message = %q, want %q", m.Text, "from the socket")
	}
	if m.UserID != "user-a" || m.Kind != models.MessageKindUser {
		t.Fatalf("echoed message attribution = (%q, %q), want (user-a, user)", m.UserID, m.Kind)
	}

	msgs, err := st.ListByPod(ctx, podID)
	if err != nil {
		t.Fatalf("ListByPod: %v", err)
	}
	if msgs[len(msgs)-1].Text != "from the socket" {
		t.Fatalf("inbound frame not in transcript, last = %q", msgs[len(msgs)-1].Text)
	}
}

func TestStream_SecondSubscriberSeesFullTranscript(t *testing.T) {
	st := memstore.New(zap.NewNop())
	eng := engine.New(st, st, st, zap.NewNop())
	h := podsfeature.NewHandler(eng, identity.Static("user-a"), zap.NewNop())
	srv := httptest.NewServer(podsfeature.Routes(h))
	defer srv.Close()

	ctx := context.Background()
	podID, err := eng.FindOrCreatePod(ctx, "user-a", "Anxiety", "Venting", "24h")
	if err != nil {
		t.Fatalf("FindOrCreatePod: %v", err)
	}
	if _, err := eng.SendMessage(ctx, podID, "user-a", "first"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	first := dialStream(t, srv, podID)
	readStreamMessage(t, first) // welcome
	readStreamMessage(t, first) // "first"

	// A later subscriber replays the same transcript from the top.
	second := dialStream(t, srv, podID)
	if m := readStreamMessage(t, second); m.Kind != models.MessageKindSystem {
		t.Fatalf("second subscriber first message kind = %q, want system", m.Kind)
	}
	if m := readStreamMessage(t, second); m.Text != "first" {
		t.Fatalf("second subscriber backlog = %q, want %q", m.Text, "first")
	}
}
