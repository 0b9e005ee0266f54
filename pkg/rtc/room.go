package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/pkg/media"
	"github.com/meetkit/meetkit-server/pkg/telemetry/prometheus"
)

// Room is the aggregate state of one conferencing session: peers, their
// transports, the producers and consumers flowing between them, and the
// active-speaker projection.
//
// A single mutex serializes every compound operation, engine calls
// included. Engine callbacks re-enter through the same mutex, so room state
// only ever mutates from one logical sequence at a time. Cleanup is
// idempotent: the explicit close paths and the engine-originated close
// events converge without double-freeing.
type Room struct {
	id       string
	workerID string
	router   media.Router
	observer media.AudioLevelObserver
	notifier Notifier

	transportOptions media.TransportOptions

	lock          sync.Mutex
	peers         map[string]*Peer
	transports    map[string]*trackedTransport
	producers     []*trackedProducer
	consumers     []*trackedConsumer
	activeSpeaker ActiveSpeaker

	closed  core.Fuse
	onClose func()

	logger logger.Logger
}

type trackedTransport struct {
	transport media.Transport
	peerID    string
	direction Direction
}

type trackedProducer struct {
	producer media.Producer
	peerID   string
	mediaTag string
}

type trackedConsumer struct {
	consumer    media.Consumer
	peerID      string // consuming peer
	producerID  string
	mediaPeerID string // producing peer
	mediaTag    string
}

type RoomParams struct {
	ID               string
	WorkerID         string
	Router           media.Router
	Observer         media.AudioLevelObserver
	Notifier         Notifier
	TransportOptions media.TransportOptions
}

func NewRoom(params RoomParams) *Room {
	r := &Room{
		id:               params.ID,
		workerID:         params.WorkerID,
		router:           params.Router,
		observer:         params.Observer,
		notifier:         params.Notifier,
		transportOptions: params.TransportOptions,
		peers:            make(map[string]*Peer),
		transports:       make(map[string]*trackedTransport),
		closed:           core.NewFuse(),
		logger:           logger.GetLogger().WithValues("room", params.ID),
	}

	r.observer.OnVolumes(r.handleVolumes)
	r.observer.OnSilence(r.handleSilence)

	prometheus.RoomStarted()
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) WorkerID() string {
	return r.workerID
}

func (r *Room) RouterRTPCapabilities() media.RTPCapabilities {
	return r.router.RTPCapabilities()
}

func (r *Room) OnClose(f func()) {
	r.onClose = f
}

func (r *Room) IsClosed() bool {
	return r.closed.IsBroken()
}

// Join inserts the peer and creates its send and receive transports.
func (r *Room) Join(ctx context.Context, peerID, name string) (*JoinResponse, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed.IsBroken() {
		return nil, ErrRoomClosed
	}
	if r.peers[peerID] != nil {
		return nil, ErrAlreadyJoined
	}

	sendTransport, err := r.createTransportLocked(ctx, peerID, DirectionSend)
	if err != nil {
		return nil, err
	}
	recvTransport, err := r.createTransportLocked(ctx, peerID, DirectionRecv)
	if err != nil {
		r.closeTransportLocked(sendTransport.ID())
		return nil, err
	}

	now := time.Now().UnixMilli()
	r.peers[peerID] = newPeer(peerID, name, now)
	prometheus.AddPeer()

	r.logger.Infow("peer joined", "peer", peerID, "name", name)
	r.notifier.BroadcastToRoom(r.id, EventNewPeer, map[string]interface{}{
		"peerId": peerID,
		"name":   name,
	})

	return &JoinResponse{
		RouterRTPCapabilities: r.router.RTPCapabilities(),
		SendTransportOptions:  sendTransport.ConnectInfo(),
		RecvTransportOptions:  recvTransport.ConnectInfo(),
	}, nil
}

// Sync refreshes the peer's last-seen timestamp and returns the room
// snapshot used by polling clients.
func (r *Room) Sync(peerID string) (*SyncResponse, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	peer := r.peers[peerID]
	if peer == nil {
		return nil, ErrNotConnected
	}
	peer.LastSeenTs = time.Now().UnixMilli()

	peers := make(map[string]*Peer, len(r.peers))
	for id, p := range r.peers {
		peers[id] = p.Snapshot()
	}
	return &SyncResponse{
		Peers:         peers,
		ActiveSpeaker: r.activeSpeaker,
	}, nil
}

func (r *Room) ActiveSpeaker() ActiveSpeaker {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.activeSpeaker
}

func (r *Room) GetPeer(peerID string) *Peer {
	r.lock.Lock()
	defer r.lock.Unlock()
	if p := r.peers[peerID]; p != nil {
		return p.Snapshot()
	}
	return nil
}

func (r *Room) NumPeers() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.peers)
}

// CreateTransport allocates one transport for the peer. A peer holds at
// most one transport per direction; an existing one is torn down first.
func (r *Room) CreateTransport(ctx context.Context, peerID string, direction Direction) (media.TransportConnectInfo, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.peers[peerID] == nil {
		return media.TransportConnectInfo{}, ErrNotConnected
	}
	t, err := r.createTransportLocked(ctx, peerID, direction)
	if err != nil {
		return media.TransportConnectInfo{}, err
	}
	return t.ConnectInfo(), nil
}

func (r *Room) createTransportLocked(ctx context.Context, peerID string, direction Direction) (media.Transport, error) {
	for id, tt := range r.transports {
		if tt.peerID == peerID && tt.direction == direction {
			r.logger.Debugw("replacing existing transport", "peer", peerID, "direction", direction, "transport", id)
			r.closeTransportLocked(id)
		}
	}

	opts := r.transportOptions
	opts.PeerID = peerID
	opts.Direction = string(direction)
	transport, err := r.router.NewWebRTCTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.transports[transport.ID()] = &trackedTransport{
		transport: transport,
		peerID:    peerID,
		direction: direction,
	}
	return transport, nil
}

func (r *Room) ConnectTransport(ctx context.Context, transportID string, dtlsParameters media.DTLSParameters) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tt := r.transports[transportID]
	if tt == nil {
		return ErrTransportNotFound
	}
	return tt.transport.Connect(ctx, dtlsParameters)
}

func (r *Room) CloseTransport(transportID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.transports[transportID] == nil {
		return ErrTransportNotFound
	}
	r.closeTransportLocked(transportID)
	return nil
}

// closeTransportLocked cascades: the transport's producers (and their
// consumers everywhere in the room) and the consumers riding on it are all
// removed in the same logical operation.
func (r *Room) closeTransportLocked(transportID string) {
	tt := r.transports[transportID]
	if tt == nil {
		return
	}
	r.logger.Debugw("closing transport", "transport", transportID, "peer", tt.peerID)

	switch tt.direction {
	case DirectionSend:
		for _, tp := range r.producersSnapshotLocked() {
			if tp.peerID == tt.peerID {
				r.closeProducerLocked(tp)
			}
		}
	case DirectionRecv:
		for _, tc := range r.consumersSnapshotLocked() {
			if tc.peerID == tt.peerID {
				r.closeConsumerLocked(tc)
			}
		}
	}

	_ = tt.transport.Close()
	delete(r.transports, transportID)
}

// Produce creates a producer on the peer's send transport and eagerly
// fans out one paused consumer per other peer in the room.
func (r *Room) Produce(ctx context.Context, peerID, transportID string, kind media.Kind,
	rtpParameters media.RTPParameters, mediaTag string, paused bool) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	peer := r.peers[peerID]
	if peer == nil {
		return "", ErrNotConnected
	}
	tt := r.transports[transportID]
	if tt == nil || tt.peerID != peerID || tt.direction != DirectionSend {
		return "", ErrTransportNotFound
	}

	// one producer per media tag per peer
	for _, tp := range r.producersSnapshotLocked() {
		if tp.peerID == peerID && tp.mediaTag == mediaTag {
			r.logger.Debugw("replacing producer for media tag", "peer", peerID, "mediaTag", mediaTag)
			r.closeProducerLocked(tp)
		}
	}

	producer, err := tt.transport.Produce(ctx, media.ProduceOptions{
		Kind:          kind,
		RTPParameters: rtpParameters,
		Paused:        paused,
		PeerID:        peerID,
		MediaTag:      mediaTag,
	})
	if err != nil {
		return "", err
	}

	tp := &trackedProducer{
		producer: producer,
		peerID:   peerID,
		mediaTag: mediaTag,
	}
	producer.OnTransportClose(func() {
		r.handleProducerClosed(producer.ID())
	})

	if kind == media.KindAudio {
		if err := r.observer.AddProducer(ctx, producer.ID()); err != nil {
			r.logger.Warnw("could not observe audio producer", err, "producer", producer.ID())
		}
	}

	r.producers = append(r.producers, tp)
	peer.Media[mediaTag] = &PeerMedia{
		Paused:    paused,
		Encodings: rtpParameters.Encodings,
	}
	prometheus.AddProducer()
	r.logger.Infow("producer created",
		"peer", peerID, "producer", producer.ID(), "kind", kind, "mediaTag", mediaTag)

	// fan-out: one paused consumer per other peer
	for _, other := range r.peers {
		if other.ID == peerID {
			continue
		}
		r.createConsumerLocked(ctx, tp, other.ID)
	}

	return producer.ID(), nil
}

// InitConsumers is the catch-up path for a peer that just joined: one
// paused consumer per producer in the room not owned by that peer.
func (r *Room) InitConsumers(ctx context.Context, peerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.peers[peerID] == nil {
		return ErrNotConnected
	}
	for _, tp := range r.producersSnapshotLocked() {
		if tp.peerID == peerID {
			continue
		}
		r.createConsumerLocked(ctx, tp, peerID)
	}
	return nil
}

// createConsumerLocked binds one remote producer to one local peer's
// receive transport. Consumers always start paused; the client resumes
// once its connection completes. Failures here are deliberately soft: the
// rest of the fan-out proceeds.
func (r *Room) createConsumerLocked(ctx context.Context, tp *trackedProducer, peerID string) {
	peer := r.peers[peerID]
	if peer == nil {
		return
	}
	// exactly one consumer per (peer, producer) pair
	for _, tc := range r.consumers {
		if tc.peerID == peerID && tc.producerID == tp.producer.ID() {
			return
		}
	}

	caps := r.router.RTPCapabilities()
	if !r.router.CanConsume(tp.producer.ID(), caps) {
		r.logger.Warnw("peer cannot consume producer", ErrCannotConsume,
			"peer", peerID, "producer", tp.producer.ID(), "mediaTag", tp.mediaTag)
		return
	}

	var recv *trackedTransport
	for _, tt := range r.transports {
		if tt.peerID == peerID && tt.direction == DirectionRecv {
			recv = tt
			break
		}
	}
	if recv == nil {
		r.logger.Warnw("recv transport for peer not found", nil, "peer", peerID)
		return
	}

	consumer, err := recv.transport.Consume(ctx, media.ConsumeOptions{
		ProducerID:      tp.producer.ID(),
		RTPCapabilities: caps,
		Paused:          true,
		PeerID:          peerID,
		MediaPeerID:     tp.peerID,
		MediaTag:        tp.mediaTag,
	})
	if err != nil {
		r.logger.Errorw("could not create consumer", err,
			"peer", peerID, "producer", tp.producer.ID())
		return
	}

	tc := &trackedConsumer{
		consumer:    consumer,
		peerID:      peerID,
		producerID:  tp.producer.ID(),
		mediaPeerID: tp.peerID,
		mediaTag:    tp.mediaTag,
	}

	// both close signals funnel into the same idempotent cleanup
	consumer.OnTransportClose(func() {
		r.handleConsumerClosed(consumer.ID(), false)
	})
	consumer.OnProducerClose(func() {
		r.handleConsumerClosed(consumer.ID(), true)
	})
	consumer.OnProducerPause(func() {
		r.notifier.BroadcastToRoom(r.id, EventConsumerPaused, map[string]interface{}{
			"consumerId": consumer.ID(),
		})
	})
	consumer.OnProducerResume(func() {
		r.notifier.BroadcastToRoom(r.id, EventConsumerResumed, map[string]interface{}{
			"consumerId": consumer.ID(),
		})
	})
	consumer.OnLayersChange(func(layers media.ConsumerLayers) {
		r.handleLayersChange(consumer.ID(), layers)
	})

	r.consumers = append(r.consumers, tc)
	peer.ConsumerLayers[consumer.ID()] = &PeerConsumerLayers{}
	prometheus.AddConsumer()

	r.notifier.SendToPeer(r.id, peerID, EventNewConsumer, &NewConsumerPayload{
		PeerID:         tp.peerID,
		ProducerID:     tp.producer.ID(),
		ID:             consumer.ID(),
		Kind:           consumer.Kind(),
		RTPParameters:  consumer.RTPParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	})
}

func (r *Room) CloseProducer(producerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tp := r.findProducerLocked(producerID)
	if tp == nil {
		return ErrProducerNotFound
	}
	r.closeProducerLocked(tp)
	return nil
}

// closeProducerLocked removes the producer, its owner's media-tag entry,
// and every consumer bound to it in the same logical operation.
func (r *Room) closeProducerLocked(tp *trackedProducer) {
	if r.findProducerLocked(tp.producer.ID()) == nil {
		return
	}
	r.logger.Debugw("closing producer", "producer", tp.producer.ID(), "peer", tp.peerID)

	for _, tc := range r.consumersSnapshotLocked() {
		if tc.producerID == tp.producer.ID() {
			r.closeConsumerLocked(tc)
			r.notifier.BroadcastToRoom(r.id, EventConsumerClosed, map[string]interface{}{
				"consumerId": tc.consumer.ID(),
			})
		}
	}

	_ = tp.producer.Close()
	r.removeProducerLocked(tp.producer.ID())
	if peer := r.peers[tp.peerID]; peer != nil {
		delete(peer.Media, tp.mediaTag)
	}
	prometheus.SubProducer()
}

func (r *Room) PauseProducer(ctx context.Context, peerID, producerID string) error {
	return r.setProducerPaused(ctx, peerID, producerID, true)
}

func (r *Room) ResumeProducer(ctx context.Context, peerID, producerID string) error {
	return r.setProducerPaused(ctx, peerID, producerID, false)
}

func (r *Room) setProducerPaused(ctx context.Context, peerID, producerID string, paused bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tp := r.findProducerLocked(producerID)
	if tp == nil {
		return ErrProducerNotFound
	}

	var err error
	if paused {
		err = tp.producer.Pause(ctx)
	} else {
		err = tp.producer.Resume(ctx)
	}
	if err != nil {
		return err
	}

	if peer := r.peers[peerID]; peer != nil {
		if m := peer.Media[tp.mediaTag]; m != nil {
			m.Paused = paused
		}
	}
	return nil
}

func (r *Room) CloseConsumer(consumerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return ErrConsumerNotFound
	}
	r.closeConsumerLocked(tc)
	return nil
}

func (r *Room) closeConsumerLocked(tc *trackedConsumer) {
	if r.findConsumerLocked(tc.consumer.ID()) == nil {
		return
	}
	r.logger.Debugw("closing consumer", "consumer", tc.consumer.ID(), "peer", tc.peerID)

	_ = tc.consumer.Close()
	r.removeConsumerLocked(tc.consumer.ID())
	if peer := r.peers[tc.peerID]; peer != nil {
		delete(peer.ConsumerLayers, tc.consumer.ID())
	}
	prometheus.SubConsumer()
}

func (r *Room) PauseConsumer(ctx context.Context, consumerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return ErrConsumerNotFound
	}
	return tc.consumer.Pause(ctx)
}

func (r *Room) ResumeConsumer(ctx context.Context, consumerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return ErrConsumerNotFound
	}
	return tc.consumer.Resume(ctx)
}

// SetConsumerLayers records the client's spatial-layer choice and forwards
// it to the engine; the engine reports the applied layer back through the
// layerschange event.
func (r *Room) SetConsumerLayers(ctx context.Context, consumerID string, spatialLayer int) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return ErrConsumerNotFound
	}
	if peer := r.peers[tc.peerID]; peer != nil {
		if layers := peer.ConsumerLayers[consumerID]; layers != nil {
			selected := spatialLayer
			layers.ClientSelectedLayer = &selected
		}
	}
	return tc.consumer.SetPreferredLayers(ctx, spatialLayer)
}

// RemovePeer cascades a leave: every transport owned by the peer closes
// (taking its producers and consumers with it), the peer record is
// dropped, and an empty room closes itself.
func (r *Room) RemovePeer(peerID string) error {
	r.lock.Lock()

	if r.peers[peerID] == nil {
		r.lock.Unlock()
		return nil
	}
	r.logger.Infow("peer leaving", "peer", peerID)

	for id, tt := range r.snapshotTransportsLocked() {
		if tt.peerID == peerID {
			r.closeTransportLocked(id)
		}
	}
	delete(r.peers, peerID)
	prometheus.SubPeer()

	r.notifier.BroadcastToRoom(r.id, EventPeerClosed, map[string]interface{}{
		"peerId": peerID,
	})

	var onClose func()
	if len(r.peers) == 0 && !r.closed.IsBroken() {
		onClose = r.closeLocked()
	}
	r.lock.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Close tears the room down regardless of remaining peers (server
// shutdown path).
func (r *Room) Close() {
	r.lock.Lock()
	var onClose func()
	if !r.closed.IsBroken() {
		onClose = r.closeLocked()
	}
	r.lock.Unlock()

	if onClose != nil {
		onClose()
	}
}

// closeLocked closes engine handles exactly once and hands back the
// registered onClose callback to invoke after the lock is released.
func (r *Room) closeLocked() func() {
	r.closed.Break()
	r.logger.Infow("closing room")

	_ = r.observer.Close()
	_ = r.router.Close()
	prometheus.RoomEnded()
	return r.onClose
}

// engine event handlers; all arrive on engine goroutines

func (r *Room) handleProducerClosed(producerID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	tp := r.findProducerLocked(producerID)
	if tp == nil {
		return
	}
	r.closeProducerLocked(tp)
}

func (r *Room) handleConsumerClosed(consumerID string, byProducer bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return
	}
	r.closeConsumerLocked(tc)
	if byProducer {
		r.notifier.BroadcastToRoom(r.id, EventConsumerClosed, map[string]interface{}{
			"consumerId": consumerID,
		})
	}
}

func (r *Room) handleLayersChange(consumerID string, layers media.ConsumerLayers) {
	r.lock.Lock()
	defer r.lock.Unlock()

	tc := r.findConsumerLocked(consumerID)
	if tc == nil {
		return
	}
	if peer := r.peers[tc.peerID]; peer != nil {
		if l := peer.ConsumerLayers[consumerID]; l != nil {
			current := layers.SpatialLayer
			l.CurrentLayer = &current
		}
	}
}

func (r *Room) handleVolumes(volumes []media.AudioLevelVolume) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed.IsBroken() || len(volumes) == 0 {
		return
	}
	loudest := volumes[0]
	tp := r.findProducerLocked(loudest.ProducerID)
	if tp == nil {
		return
	}
	producerID := loudest.ProducerID
	peerID := tp.peerID
	volume := loudest.Volume
	r.activeSpeaker = ActiveSpeaker{
		ProducerID: &producerID,
		PeerID:     &peerID,
		Volume:     &volume,
	}
}

func (r *Room) handleSilence() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed.IsBroken() {
		return
	}
	r.activeSpeaker = ActiveSpeaker{}
}

// lookup helpers

func (r *Room) findProducerLocked(producerID string) *trackedProducer {
	for _, tp := range r.producers {
		if tp.producer.ID() == producerID {
			return tp
		}
	}
	return nil
}

func (r *Room) findConsumerLocked(consumerID string) *trackedConsumer {
	for _, tc := range r.consumers {
		if tc.consumer.ID() == consumerID {
			return tc
		}
	}
	return nil
}

func (r *Room) removeProducerLocked(producerID string) {
	producers := make([]*trackedProducer, 0, len(r.producers))
	for _, tp := range r.producers {
		if tp.producer.ID() != producerID {
			producers = append(producers, tp)
		}
	}
	r.producers = producers
}

func (r *Room) removeConsumerLocked(consumerID string) {
	consumers := make([]*trackedConsumer, 0, len(r.consumers))
	for _, tc := range r.consumers {
		if tc.consumer.ID() != consumerID {
			consumers = append(consumers, tc)
		}
	}
	r.consumers = consumers
}

func (r *Room) producersSnapshotLocked() []*trackedProducer {
	out := make([]*trackedProducer, len(r.producers))
	copy(out, r.producers)
	return out
}

func (r *Room) consumersSnapshotLocked() []*trackedConsumer {
	out := make([]*trackedConsumer, len(r.consumers))
	copy(out, r.consumers)
	return out
}

func (r *Room) snapshotTransportsLocked() map[string]*trackedTransport {
	out := make(map[string]*trackedTransport, len(r.transports))
	for id, tt := range r.transports {
		out[id] = tt
	}
	return out
}

// NumProducers and NumConsumers are read by tests and the debug surface.
func (r *Room) NumProducers() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.producers)
}

func (r *Room) NumConsumers() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.consumers)
}

func (r *Room) NumTransports() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.transports)
}
