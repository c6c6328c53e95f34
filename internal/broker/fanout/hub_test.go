package fanout

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"spectralnotify/internal/platform/logging"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newTestServer(t *testing.T, hub *Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Subscribe(conn)
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastDeliversToEverySubscriberInOrder(t *testing.T) {
	hub := NewHub("task:t1", DefaultConfig(), logging.Nop, nil)
	_, url := newTestServer(t, hub)

	a := dial(t, url)
	b := dial(t, url)

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Broadcast(map[string]int{"seq": 1}))
	require.NoError(t, hub.Broadcast(map[string]int{"seq": 2}))

	for _, conn := range []*websocket.Conn{a, b} {
		_, msg1, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Contains(t, string(msg1), `"seq":1`)
		_, msg2, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Contains(t, string(msg2), `"seq":2`)
	}
}

func TestHubAnswersClientPingWithPong(t *testing.T) {
	hub := NewHub("task:t1", DefaultConfig(), logging.Nop, nil)
	_, url := newTestServer(t, hub)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"pong"`)
}

func TestHubCloseDisconnectsEverySubscriber(t *testing.T) {
	hub := NewHub("task:t1", DefaultConfig(), logging.Nop, nil)
	_, url := newTestServer(t, hub)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close(websocket.CloseGoingAway, "shutting down")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Equal(t, 0, hub.SubscriberCount())
}

func TestHubEvictsSlowSubscriberAndFiresOnEvict(t *testing.T) {
	evictions := 0
	hub := NewHub("task:t1", DefaultConfig(), logging.Nop, func() { evictions++ })
	_, url := newTestServer(t, hub)
	dial(t, url)

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < DefaultConfig().MaxBuffered+10; i++ {
		require.NoError(t, hub.Broadcast(map[string]int{"seq": i}))
	}

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, evictions)
}
