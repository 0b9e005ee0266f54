package media

import (
	"github.com/pion/webrtc/v3"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RTPCodecCapability describes one codec a router can route.
type RTPCodecCapability struct {
	Kind       Kind                   `json:"kind"`
	MimeType   string                 `json:"mimeType"`
	ClockRate  uint32                 `json:"clockRate"`
	Channels   uint16                 `json:"channels,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

type RTPEncodingParameters struct {
	Rid             string `json:"rid,omitempty"`
	SSRC            uint32 `json:"ssrc,omitempty"`
	MaxBitrate      uint64 `json:"maxBitrate,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
}

// RTPParameters is the negotiated send/receive description for a single flow.
type RTPParameters struct {
	MID       string                  `json:"mid,omitempty"`
	Codecs    []RTPCodecCapability    `json:"codecs,omitempty"`
	Encodings []RTPEncodingParameters `json:"encodings,omitempty"`
}

// ICE and DTLS parameters are carried in pion's wire shapes.
type (
	ICEParameters  = webrtc.ICEParameters
	ICECandidate   = webrtc.ICECandidate
	DTLSParameters = webrtc.DTLSParameters
)

// TransportConnectInfo is everything a client needs to establish the
// transport on its side.
type TransportConnectInfo struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

type ListenIP struct {
	IP          string
	AnnouncedIP string
}

type WorkerOptions struct {
	RTCPortRangeStart uint32
	RTCPortRangeEnd   uint32
}

type TransportOptions struct {
	ListenIPs                       []ListenIP
	InitialAvailableOutgoingBitrate uint64

	// app data, opaque to the engine
	PeerID    string
	Direction string
}

type ProduceOptions struct {
	Kind          Kind
	RTPParameters RTPParameters
	Paused        bool

	PeerID   string
	MediaTag string
}

type ConsumeOptions struct {
	ProducerID      string
	RTPCapabilities RTPCapabilities
	Paused          bool

	PeerID      string
	MediaPeerID string
	MediaTag    string
}

type ConsumerType string

const (
	ConsumerTypeSimple    ConsumerType = "simple"
	ConsumerTypeSimulcast ConsumerType = "simulcast"
)

type ConsumerLayers struct {
	SpatialLayer  int `json:"spatialLayer"`
	TemporalLayer int `json:"temporalLayer,omitempty"`
}

// AudioLevelVolume is a single entry of a "volumes" report. Volume is in
// dBvo, -127 (silence) to 0 (loudest).
type AudioLevelVolume struct {
	ProducerID string
	Volume     int
}
