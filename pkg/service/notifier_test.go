package service

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialPush(t *testing.T, ts *httptest.Server, roomID, peerID string) *websocket.Conn {
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?roomId=" + roomID + "&peerId=" + peerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readPush(t *testing.T, conn *websocket.Conn) PushMessage {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg PushMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSNotifier(t *testing.T) {
	notifier := NewWSNotifier()
	defer notifier.Stop()

	ts := httptest.NewServer(notifier)
	defer ts.Close()

	alice := dialPush(t, ts, "standup", "alice")
	bob := dialPush(t, ts, "standup", "bob")
	carol := dialPush(t, ts, "retro", "carol")

	t.Run("broadcast reaches every peer in the room", func(t *testing.T) {
		notifier.BroadcastToRoom("standup", "new-peer", map[string]string{"peerId": "dave"})

		for _, conn := range []*websocket.Conn{alice, bob} {
			msg := readPush(t, conn)
			require.Equal(t, "new-peer", msg.Event)
			payload := msg.Payload.(map[string]interface{})
			require.Equal(t, "dave", payload["peerId"])
		}
	})

	t.Run("peer-scoped events reach only their target", func(t *testing.T) {
		notifier.SendToPeer("standup", "alice", "new-consumer", map[string]string{"id": "CO-1"})

		msg := readPush(t, alice)
		require.Equal(t, "new-consumer", msg.Event)

		require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		var stray PushMessage
		require.Error(t, bob.ReadJSON(&stray))
	})

	t.Run("rooms are isolated", func(t *testing.T) {
		notifier.BroadcastToRoom("standup", "peer-closed", map[string]string{"peerId": "dave"})

		require.NoError(t, carol.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		var stray PushMessage
		require.Error(t, carol.ReadJSON(&stray))
	})

	t.Run("missing query parameters are rejected", func(t *testing.T) {
		url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws?roomId=standup"
		_, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
	})
}
