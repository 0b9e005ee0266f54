package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"

	"github.com/meetkit/meetkit-server/pkg/logger"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second
)

type PushMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// WSNotifier is the push channel: room members hold a websocket to /ws and
// receive state-change events. Fan-out runs on a single-worker pool so
// events for a room are delivered in the order they were emitted and a
// slow socket never stalls a room operation.
type WSNotifier struct {
	lock     sync.RWMutex
	rooms    map[string]map[string][]*wsClient
	pool     *workerpool.WorkerPool
	upgrader websocket.Upgrader
}

func NewWSNotifier() *WSNotifier {
	return &WSNotifier{
		rooms: make(map[string]map[string][]*wsClient),
		pool:  workerpool.New(1),
		upgrader: websocket.Upgrader{
			// signaling requests carry no auth either; the origin is not
			// part of this surface
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (n *WSNotifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	peerID := r.URL.Query().Get("peerId")
	if roomID == "" || peerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("roomId and peerId are required"))
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("could not upgrade push channel", err, "room", roomID, "peer", peerID)
		return
	}

	client := &wsClient{conn: conn}
	n.register(roomID, peerID, client)
	logger.Debugw("push channel connected", "room", roomID, "peer", peerID)

	go client.pingWorker()

	// the read loop only detects disconnection; clients never send
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	n.unregister(roomID, peerID, client)
	_ = conn.Close()
	logger.Debugw("push channel closed", "room", roomID, "peer", peerID)
}

func (n *WSNotifier) BroadcastToRoom(roomID string, event string, payload interface{}) {
	n.pool.Submit(func() {
		for _, client := range n.clients(roomID, "") {
			client.send(&PushMessage{Event: event, Payload: payload})
		}
	})
}

func (n *WSNotifier) SendToPeer(roomID string, peerID string, event string, payload interface{}) {
	n.pool.Submit(func() {
		for _, client := range n.clients(roomID, peerID) {
			client.send(&PushMessage{Event: event, Payload: payload})
		}
	})
}

func (n *WSNotifier) Stop() {
	n.pool.StopWait()
}

func (n *WSNotifier) register(roomID, peerID string, client *wsClient) {
	n.lock.Lock()
	defer n.lock.Unlock()
	peers := n.rooms[roomID]
	if peers == nil {
		peers = make(map[string][]*wsClient)
		n.rooms[roomID] = peers
	}
	peers[peerID] = append(peers[peerID], client)
}

func (n *WSNotifier) unregister(roomID, peerID string, client *wsClient) {
	n.lock.Lock()
	defer n.lock.Unlock()
	peers := n.rooms[roomID]
	if peers == nil {
		return
	}
	remaining := peers[peerID][:0]
	for _, c := range peers[peerID] {
		if c != client {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(peers, peerID)
	} else {
		peers[peerID] = remaining
	}
	if len(peers) == 0 {
		delete(n.rooms, roomID)
	}
}

func (n *WSNotifier) clients(roomID, peerID string) []*wsClient {
	n.lock.RLock()
	defer n.lock.RUnlock()
	peers := n.rooms[roomID]
	if peers == nil {
		return nil
	}
	var out []*wsClient
	if peerID != "" {
		out = append(out, peers[peerID]...)
		return out
	}
	for _, clients := range peers {
		out = append(out, clients...)
	}
	return out
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg *PushMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		logger.Debugw("push write failed", "event", msg.Event, "error", err)
	}
}

func (c *wsClient) pingWorker() {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}
