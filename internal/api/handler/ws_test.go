package handler_test

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claimhub/backend/internal/chathub"
	"claimhub/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Event{Name: event, Data: raw}))
}

func receive(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func assertNothingReceived(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

// TestWebSocket_ClaimChat drives two participants and a bystander through
// real websocket connections.
func TestWebSocket_ClaimChat(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()
	rooms := env.handler.Registry.Rooms()

	c1, c2, c3 := dial(t, srv, ""), dial(t, srv, ""), dial(t, srv, "")

	send(t, c1, models.EventJoin, "u1")
	send(t, c2, models.EventJoinClaim, "c42")
	send(t, c1, models.EventJoinClaim, map[string]string{"claimId": "c42"})
	send(t, c3, models.EventJoinClaim, "c99")
	require.Eventually(t, func() bool {
		return len(rooms.MembersOf(chathub.ConversationRoom("c42"))) == 2 &&
			len(rooms.MembersOf(chathub.ConversationRoom("c99"))) == 1
	}, 3*time.Second, 10*time.Millisecond)

	send(t, c1, models.EventSendChat, models.ChatMessage{ClaimID: "c42", Body: "hello"})

	for _, c := range []*websocket.Conn{c1, c2} {
		ev := receive(t, c)
		assert.Equal(t, models.EventReceiveChat, ev.Name)
		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, "c42", msg.ClaimID)
		assert.Equal(t, "u1", msg.SenderID)
	}
	assertNothingReceived(t, c3)
}

func TestWebSocket_TokenJoinsUserRoom(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()

	token, err := env.handler.Tokens.Issue("anon-7")
	require.NoError(t, err)
	phone := dial(t, srv, "?token="+token)
	laptop := dial(t, srv, "?token="+token)
	anonymous := dial(t, srv, "?token=garbage")

	require.Eventually(t, func() bool {
		return len(env.handler.Registry.Rooms().MembersOf(chathub.UserRoom("anon-7"))) == 2
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/notifications/anon-7", "application/json", strings.NewReader(`{"title":"Report ready"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	for _, c := range []*websocket.Conn{phone, laptop} {
		ev := receive(t, c)
		assert.Equal(t, models.EventNewNotification, ev.Name)
		assert.JSONEq(t, `{"title":"Report ready"}`, string(ev.Data))
	}
	assertNothingReceived(t, anonymous)
}

func TestWebSocket_DisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()
	reg := env.handler.Registry

	c := dial(t, srv, "")
	send(t, c, models.EventJoin, "u1")
	send(t, c, models.EventJoinClaim, "c1")
	require.Eventually(t, func() bool { return reg.Rooms().RoomCount() == 2 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		return reg.Len() == 0 && reg.Rooms().RoomCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}
