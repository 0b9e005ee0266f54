// Package media is the boundary to the media-processing engine. The
// coordinator never touches packets; it asks the engine to create and tear
// down workers, routers, transports, producers and consumers, and receives
// engine-originated events through the On* callbacks.
//
// Every call is a suspension point: implementations may block on I/O, and
// callbacks are delivered on engine goroutines, never on the caller's.
package media

import (
	"context"
	"time"
)

type Engine interface {
	// NewWorker starts one media worker process.
	NewWorker(ctx context.Context, opts WorkerOptions) (Worker, error)
}

type Worker interface {
	ID() string
	NewRouter(ctx context.Context, codecs []RTPCodecCapability) (Router, error)
	// OnDied fires when the worker process dies unexpectedly. There is no
	// recovery: rooms bound to this worker are unusable.
	OnDied(f func(err error))
	Close() error
}

type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	NewAudioLevelObserver(ctx context.Context, interval time.Duration) (AudioLevelObserver, error)
	NewWebRTCTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	CanConsume(producerID string, caps RTPCapabilities) bool
	Close() error
}

type AudioLevelObserver interface {
	ID() string
	AddProducer(ctx context.Context, producerID string) error
	// OnVolumes reports the loudest producers, ordered loudest first.
	OnVolumes(f func(volumes []AudioLevelVolume))
	OnSilence(f func())
	Close() error
}

type Transport interface {
	ID() string
	ConnectInfo() TransportConnectInfo
	Connect(ctx context.Context, dtlsParameters DTLSParameters) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// Close also closes every producer and consumer carried by this
	// transport; their OnTransportClose callbacks fire.
	Close() error
}

type Producer interface {
	ID() string
	Kind() Kind
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Close also closes every consumer of this producer; their
	// OnProducerClose callbacks fire.
	Close() error
	OnTransportClose(f func())
}

type Consumer interface {
	ID() string
	Kind() Kind
	RTPParameters() RTPParameters
	Type() ConsumerType
	ProducerPaused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetPreferredLayers(ctx context.Context, spatialLayer int) error
	Close() error
	OnTransportClose(f func())
	OnProducerClose(f func())
	OnProducerPause(f func())
	OnProducerResume(f func())
	OnLayersChange(f func(layers ConsumerLayers))
}
