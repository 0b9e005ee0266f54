package rtc

import (
	"github.com/meetkit/meetkit-server/pkg/media"
)

// Peer is one participant's session within a room. All fields are guarded
// by the owning room's lock; Snapshot returns a copy safe to serialize
// after the lock is released.
type Peer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	JoinTs     int64  `json:"joinTs"`
	LastSeenTs int64  `json:"lastSeenTs"`

	// mediaTag -> outbound flow state
	Media map[string]*PeerMedia `json:"media"`
	// consumerId -> layer selection state
	ConsumerLayers map[string]*PeerConsumerLayers `json:"consumerLayers"`
}

type PeerMedia struct {
	Paused    bool                          `json:"paused"`
	Encodings []media.RTPEncodingParameters `json:"encodings"`
}

type PeerConsumerLayers struct {
	CurrentLayer        *int `json:"currentLayer"`
	ClientSelectedLayer *int `json:"clientSelectedLayer"`
}

func newPeer(id, name string, now int64) *Peer {
	return &Peer{
		ID:             id,
		Name:           name,
		JoinTs:         now,
		LastSeenTs:     now,
		Media:          make(map[string]*PeerMedia),
		ConsumerLayers: make(map[string]*PeerConsumerLayers),
	}
}

func (p *Peer) Snapshot() *Peer {
	c := &Peer{
		ID:             p.ID,
		Name:           p.Name,
		JoinTs:         p.JoinTs,
		LastSeenTs:     p.LastSeenTs,
		Media:          make(map[string]*PeerMedia, len(p.Media)),
		ConsumerLayers: make(map[string]*PeerConsumerLayers, len(p.ConsumerLayers)),
	}
	for tag, m := range p.Media {
		mc := &PeerMedia{Paused: m.Paused}
		mc.Encodings = append(mc.Encodings, m.Encodings...)
		c.Media[tag] = mc
	}
	for id, l := range p.ConsumerLayers {
		lc := &PeerConsumerLayers{}
		if l.CurrentLayer != nil {
			v := *l.CurrentLayer
			lc.CurrentLayer = &v
		}
		if l.ClientSelectedLayer != nil {
			v := *l.ClientSelectedLayer
			lc.ClientSelectedLayer = &v
		}
		c.ConsumerLayers[id] = lc
	}
	return c
}
