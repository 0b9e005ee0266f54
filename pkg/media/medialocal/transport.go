package medialocal

import (
	"context"
	"errors"
	"fmt"

	"github.com/meetkit/meetkit-server/pkg/media"
	"github.com/meetkit/meetkit-server/pkg/utils"
)

var ErrClosed = errors.New("object is closed")

type Transport struct {
	id     string
	router *Router
	opts   media.TransportOptions
	info   media.TransportConnectInfo

	// guarded by router.mu
	connected bool
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) ConnectInfo() media.TransportConnectInfo {
	return t.info
}

// Consumer returns a live consumer by id, for state inspection.
func (t *Transport) Consumer(id string) *Consumer {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	return t.consumers[id]
}

func (t *Transport) Connect(_ context.Context, dtlsParameters media.DTLSParameters) error {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if len(dtlsParameters.Fingerprints) == 0 {
		return errors.New("missing dtls fingerprints")
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(_ context.Context, opts media.ProduceOptions) (media.Producer, error) {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	p := &Producer{
		id:        utils.NewGuid(utils.ProducerPrefix),
		kind:      opts.Kind,
		params:    opts.RTPParameters,
		paused:    opts.Paused,
		transport: t,
		consumers: make(map[string]*Consumer),
	}
	t.producers[p.id] = p
	t.router.producers[p.id] = p
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	t.router.mu.Lock()
	defer t.router.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	producer, ok := t.router.producers[opts.ProducerID]
	if !ok {
		return nil, fmt.Errorf("producer %s not found", opts.ProducerID)
	}

	typ := media.ConsumerTypeSimple
	if len(producer.params.Encodings) > 1 {
		typ = media.ConsumerTypeSimulcast
	}
	c := &Consumer{
		id:             utils.NewGuid(utils.ConsumerPrefix),
		kind:           producer.kind,
		params:         producer.params,
		typ:            typ,
		paused:         opts.Paused,
		producerPaused: producer.paused,
		transport:      t,
		producer:       producer,
	}
	t.consumers[c.id] = c
	producer.consumers[c.id] = c
	return c, nil
}

func (t *Transport) Close() error {
	t.router.mu.Lock()
	if t.closed {
		t.router.mu.Unlock()
		return nil
	}
	t.closed = true
	delete(t.router.transports, t.id)

	var fire []func()
	for _, p := range t.producers {
		fire = append(fire, p.closeLocked(true)...)
	}
	for _, c := range t.consumers {
		// producers on this transport already took their consumers down
		if !c.closed {
			fire = append(fire, c.closeLocked(true, false)...)
		}
	}
	t.router.mu.Unlock()

	for _, f := range fire {
		go f()
	}
	return nil
}

type Producer struct {
	id     string
	kind   media.Kind
	params media.RTPParameters

	// guarded by transport.router.mu
	paused      bool
	closed      bool
	transport   *Transport
	consumers   map[string]*Consumer
	transportCb func()
}

func (p *Producer) ID() string {
	return p.id
}

func (p *Producer) Kind() media.Kind {
	return p.kind
}

func (p *Producer) Paused() bool {
	p.transport.router.mu.Lock()
	defer p.transport.router.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(_ context.Context) error {
	return p.setPaused(true)
}

func (p *Producer) Resume(_ context.Context) error {
	return p.setPaused(false)
}

func (p *Producer) setPaused(paused bool) error {
	mu := &p.transport.router.mu
	mu.Lock()
	if p.closed {
		mu.Unlock()
		return ErrClosed
	}
	changed := p.paused != paused
	p.paused = paused
	var fire []func()
	if changed {
		for _, c := range p.consumers {
			c.producerPaused = paused
			if paused {
				if f := c.producerPauseCb; f != nil {
					fire = append(fire, f)
				}
			} else {
				if f := c.producerResumeCb; f != nil {
					fire = append(fire, f)
				}
			}
		}
	}
	mu.Unlock()

	for _, f := range fire {
		go f()
	}
	return nil
}

func (p *Producer) Close() error {
	mu := &p.transport.router.mu
	mu.Lock()
	if p.closed {
		mu.Unlock()
		return nil
	}
	fire := p.closeLocked(false)
	mu.Unlock()

	for _, f := range fire {
		go f()
	}
	return nil
}

// closeLocked tears the producer down and collects the callbacks to fire
// once the lock is released. byTransport selects which close event the
// producer itself reports.
func (p *Producer) closeLocked(byTransport bool) []func() {
	if p.closed {
		return nil
	}
	p.closed = true
	delete(p.transport.producers, p.id)
	delete(p.transport.router.producers, p.id)

	var fire []func()
	if byTransport && p.transportCb != nil {
		fire = append(fire, p.transportCb)
	}
	for _, c := range p.consumers {
		fire = append(fire, c.closeLocked(false, true)...)
	}
	return fire
}

func (p *Producer) OnTransportClose(f func()) {
	p.transport.router.mu.Lock()
	p.transportCb = f
	p.transport.router.mu.Unlock()
}

type Consumer struct {
	id     string
	kind   media.Kind
	params media.RTPParameters
	typ    media.ConsumerType

	// guarded by transport.router.mu
	paused           bool
	producerPaused   bool
	closed           bool
	preferredLayer   int
	transport        *Transport
	producer         *Producer
	transportCb      func()
	producerCloseCb  func()
	producerPauseCb  func()
	producerResumeCb func()
	layersCb         func(media.ConsumerLayers)
}

func (c *Consumer) ID() string {
	return c.id
}

func (c *Consumer) Kind() media.Kind {
	return c.kind
}

func (c *Consumer) RTPParameters() media.RTPParameters {
	return c.params
}

func (c *Consumer) Type() media.ConsumerType {
	return c.typ
}

func (c *Consumer) ProducerPaused() bool {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) Paused() bool {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(_ context.Context) error {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.paused = true
	return nil
}

func (c *Consumer) Resume(_ context.Context) error {
	c.transport.router.mu.Lock()
	defer c.transport.router.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.paused = false
	return nil
}

func (c *Consumer) SetPreferredLayers(_ context.Context, spatialLayer int) error {
	c.transport.router.mu.Lock()
	if c.closed {
		c.transport.router.mu.Unlock()
		return ErrClosed
	}
	c.preferredLayer = spatialLayer
	f := c.layersCb
	c.transport.router.mu.Unlock()

	if f != nil {
		go f(media.ConsumerLayers{SpatialLayer: spatialLayer})
	}
	return nil
}

func (c *Consumer) Close() error {
	mu := &c.transport.router.mu
	mu.Lock()
	if c.closed {
		mu.Unlock()
		return nil
	}
	fire := c.closeLocked(false, false)
	mu.Unlock()

	for _, f := range fire {
		go f()
	}
	return nil
}

func (c *Consumer) closeLocked(byTransport bool, byProducer bool) []func() {
	if c.closed {
		return nil
	}
	c.closed = true
	delete(c.transport.consumers, c.id)
	delete(c.producer.consumers, c.id)

	var fire []func()
	if byTransport && c.transportCb != nil {
		fire = append(fire, c.transportCb)
	}
	if byProducer && c.producerCloseCb != nil {
		fire = append(fire, c.producerCloseCb)
	}
	return fire
}

func (c *Consumer) OnTransportClose(f func()) {
	c.transport.router.mu.Lock()
	c.transportCb = f
	c.transport.router.mu.Unlock()
}

func (c *Consumer) OnProducerClose(f func()) {
	c.transport.router.mu.Lock()
	c.producerCloseCb = f
	c.transport.router.mu.Unlock()
}

func (c *Consumer) OnProducerPause(f func()) {
	c.transport.router.mu.Lock()
	c.producerPauseCb = f
	c.transport.router.mu.Unlock()
}

func (c *Consumer) OnProducerResume(f func()) {
	c.transport.router.mu.Lock()
	c.producerResumeCb = f
	c.transport.router.mu.Unlock()
}

func (c *Consumer) OnLayersChange(f func(layers media.ConsumerLayers)) {
	c.transport.router.mu.Lock()
	c.layersCb = f
	c.transport.router.mu.Unlock()
}
