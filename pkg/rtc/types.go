package rtc

import (
	"github.com/meetkit/meetkit-server/pkg/media"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// push-channel events emitted by the coordinator
const (
	EventNewPeer         = "new-peer"
	EventPeerClosed      = "peer-closed"
	EventNewConsumer     = "new-consumer"
	EventConsumerClosed  = "consumer-closed"
	EventConsumerPaused  = "consumer-paused"
	EventConsumerResumed = "consumer-resumed"
)

// Notifier is the push channel. Delivery to a room is ordered but not
// guaranteed causal across rooms; implementations must not block the caller.
type Notifier interface {
	BroadcastToRoom(roomID string, event string, payload interface{})
	SendToPeer(roomID string, peerID string, event string, payload interface{})
}

// ActiveSpeaker is the room-level projection of the most recent audio-level
// event. All three fields are null after silence.
type ActiveSpeaker struct {
	ProducerID *string `json:"producerId"`
	PeerID     *string `json:"peerId"`
	Volume     *int    `json:"volume"`
}

type JoinResponse struct {
	RouterRTPCapabilities media.RTPCapabilities      `json:"routerRtpCapabilities"`
	SendTransportOptions  media.TransportConnectInfo `json:"sendTransportOptions"`
	RecvTransportOptions  media.TransportConnectInfo `json:"recvTransportOptions"`
}

type SyncResponse struct {
	Peers         map[string]*Peer `json:"peers"`
	ActiveSpeaker ActiveSpeaker    `json:"activeSpeaker"`
}

type NewConsumerPayload struct {
	PeerID         string              `json:"peerId"`
	ProducerID     string              `json:"producerId"`
	ID             string              `json:"id"`
	Kind           media.Kind          `json:"kind"`
	RTPParameters  media.RTPParameters `json:"rtpParameters"`
	Type           media.ConsumerType  `json:"type"`
	ProducerPaused bool                `json:"producerPaused"`
}
