package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

func newWSServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), conn, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Registry().IsOnline(userID) }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) model.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f model.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, event model.EventType, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(model.Frame{Event: event, Data: data}))
}

func TestWebsocket_ConversationRoundTrip(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f.hub)

	alice := dial(t, srv, f.hub, "alice")
	bob := dial(t, srv, f.hub, "bob")

	writeFrame(t, alice, model.EventStartConversation, model.StartConversationEvent{
		Type:        model.ConversationOneToOne,
		RecipientID: "bob",
		Content:     "over the wire",
	})

	started := readFrame(t, alice)
	require.Equal(t, model.EventConversationStarted, started.Event)
	var payload model.ConversationStarted
	require.NoError(t, json.Unmarshal(started.Data, &payload))

	announced := readFrame(t, bob)
	assert.Equal(t, model.EventNewConversation, announced.Event)

	writeFrame(t, bob, model.EventSendMessage, model.SendMessageEvent{
		ConversationID: payload.Conversation.ID,
		Content:        "reply",
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		got := readFrame(t, conn)
		assert.Equal(t, model.EventNewMessage, got.Event)
	}
}

func TestWebsocket_CloseUnregisters(t *testing.T) {
	f := newHubFixture(t)
	srv := newWSServer(t, f.hub)

	conn := dial(t, srv, f.hub, "carol")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool {
		status, err := f.presence.Status(context.Background(), "carol")
		return err == nil && status == model.PresenceOffline && !f.hub.Registry().IsOnline("carol")
	}, time.Second, 5*time.Millisecond)
}
