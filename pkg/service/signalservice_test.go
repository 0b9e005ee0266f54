package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meetkit/meetkit-server/pkg/media/medialocal"
)

func newTestSignalServer(t *testing.T) (*httptest.Server, *LocalMeetingStore) {
	conf := testConfig(t)
	pool, err := NewWorkerPool(context.Background(), medialocal.New(), conf.Media)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewLocalMeetingStore()
	rm := NewRoomManager(conf, store, pool, nopNotifier{})
	t.Cleanup(rm.Stop)

	ts := httptest.NewServer(NewSignalService(rm))
	t.Cleanup(ts.Close)
	return ts, store
}

func postSignal(t *testing.T, ts *httptest.Server, op string, body map[string]interface{}) (int, map[string]interface{}) {
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	res, err := http.Post(ts.URL+"/signal/"+op, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestSignalService(t *testing.T) {
	ts, store := newTestSignalServer(t)
	store.CreateMeeting("standup")

	t.Run("missing room id is a bad request", func(t *testing.T) {
		status, out := postSignal(t, ts, "join-as-new-peer", map[string]interface{}{"peerId": "alice"})
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, out, "error")
	})

	t.Run("unknown meeting is not found", func(t *testing.T) {
		status, _ := postSignal(t, ts, "join-as-new-peer", map[string]interface{}{
			"roomId": "nope", "peerId": "alice",
		})
		require.Equal(t, http.StatusNotFound, status)
	})

	t.Run("join returns router capabilities and transports", func(t *testing.T) {
		status, out := postSignal(t, ts, "join-as-new-peer", map[string]interface{}{
			"roomId": "standup", "peerId": "alice", "name": "Alice",
		})
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, out, "routerRtpCapabilities")
		require.Contains(t, out, "sendTransportOptions")
		require.Contains(t, out, "recvTransportOptions")
	})

	t.Run("operation failures come back in-band", func(t *testing.T) {
		status, out := postSignal(t, ts, "join-as-new-peer", map[string]interface{}{
			"roomId": "standup", "peerId": "alice",
		})
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, out, "error")
	})

	t.Run("sync reflects room membership", func(t *testing.T) {
		status, out := postSignal(t, ts, "sync", map[string]interface{}{
			"roomId": "standup", "peerId": "alice",
		})
		require.Equal(t, http.StatusOK, status)
		peers, ok := out["peers"].(map[string]interface{})
		require.True(t, ok)
		require.Contains(t, peers, "alice")
		require.Contains(t, out, "activeSpeaker")
	})

	t.Run("unknown operation is an in-band error", func(t *testing.T) {
		status, out := postSignal(t, ts, "bogus", map[string]interface{}{
			"roomId": "standup",
		})
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, out, "error")
	})

	t.Run("leave removes the peer", func(t *testing.T) {
		status, out := postSignal(t, ts, "leave", map[string]interface{}{
			"roomId": "standup", "peerId": "alice",
		})
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, out["left"])
	})
}

func TestSignalServiceTracks(t *testing.T) {
	ts, store := newTestSignalServer(t)
	store.CreateMeeting("standup")

	_, joinRes := postSignal(t, ts, "join-as-new-peer", map[string]interface{}{
		"roomId": "standup", "peerId": "alice", "name": "Alice",
	})
	sendOpts := joinRes["sendTransportOptions"].(map[string]interface{})
	transportID := sendOpts["id"].(string)

	t.Run("send-track creates a producer", func(t *testing.T) {
		status, out := postSignal(t, ts, "send-track", map[string]interface{}{
			"roomId":      "standup",
			"peerId":      "alice",
			"transportId": transportID,
			"kind":        "audio",
			"rtpParameters": map[string]interface{}{
				"codecs": []map[string]interface{}{
					{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
				},
				"encodings": []map[string]interface{}{{"ssrc": 1111}},
			},
			"appData": map[string]interface{}{"mediaTag": "mic"},
		})
		require.Equal(t, http.StatusOK, status)
		require.NotEmpty(t, out["id"])
	})

	t.Run("pause and resume round-trip", func(t *testing.T) {
		_, sent := postSignal(t, ts, "sync", map[string]interface{}{
			"roomId": "standup", "peerId": "alice",
		})
		peers := sent["peers"].(map[string]interface{})
		alice := peers["alice"].(map[string]interface{})
		mediaState := alice["media"].(map[string]interface{})
		require.Contains(t, mediaState, "mic")
	})

	t.Run("close-track tears the producer down", func(t *testing.T) {
		_, produced := postSignal(t, ts, "send-track", map[string]interface{}{
			"roomId":      "standup",
			"peerId":      "alice",
			"transportId": transportID,
			"kind":        "audio",
			"rtpParameters": map[string]interface{}{
				"codecs": []map[string]interface{}{
					{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
				},
				"encodings": []map[string]interface{}{{"ssrc": 1112}},
			},
			"mediaTag": "mic",
		})
		status, out := postSignal(t, ts, "close-producer", map[string]interface{}{
			"roomId":     "standup",
			"producerId": produced["id"],
		})
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, true, out["closed"])
	})
}
