package medialocal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meetkit/meetkit-server/pkg/media"
)

func newTestRouter(t *testing.T) media.Router {
	ctx := context.Background()
	worker, err := New().NewWorker(ctx, media.WorkerOptions{
		RTCPortRangeStart: 40000,
		RTCPortRangeEnd:   40009,
	})
	require.NoError(t, err)

	router, err := worker.NewRouter(ctx, []media.RTPCodecCapability{
		{Kind: media.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: media.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	})
	require.NoError(t, err)
	return router
}

func newTestTransport(t *testing.T, router media.Router) media.Transport {
	transport, err := router.NewWebRTCTransport(context.Background(), media.TransportOptions{
		ListenIPs:                       []media.ListenIP{{IP: "127.0.0.1", AnnouncedIP: "203.0.113.10"}},
		InitialAvailableOutgoingBitrate: 800000,
	})
	require.NoError(t, err)
	return transport
}

func produceAudio(t *testing.T, transport media.Transport) media.Producer {
	producer, err := transport.Produce(context.Background(), media.ProduceOptions{
		Kind: media.KindAudio,
		RTPParameters: media.RTPParameters{
			Encodings: []media.RTPEncodingParameters{{SSRC: 1111}},
		},
	})
	require.NoError(t, err)
	return producer
}

func TestTransportConnectInfo(t *testing.T) {
	router := newTestRouter(t)
	transport := newTestTransport(t, router)

	info := transport.ConnectInfo()
	require.NotEmpty(t, info.ID)
	require.NotEmpty(t, info.ICEParameters.UsernameFragment)
	require.NotEmpty(t, info.ICEParameters.Password)
	require.NotEmpty(t, info.DTLSParameters.Fingerprints)

	require.Len(t, info.ICECandidates, 1)
	candidate := info.ICECandidates[0]
	// the announced address is what clients must dial
	require.Equal(t, "203.0.113.10", candidate.Address)
	require.GreaterOrEqual(t, candidate.Port, uint16(40000))
	require.LessOrEqual(t, candidate.Port, uint16(40009))

	t.Run("connect requires fingerprints", func(t *testing.T) {
		err := transport.Connect(context.Background(), media.DTLSParameters{})
		require.Error(t, err)
		err = transport.Connect(context.Background(), media.DTLSParameters{
			Fingerprints: info.DTLSParameters.Fingerprints,
		})
		require.NoError(t, err)
	})
}

func TestConsume(t *testing.T) {
	router := newTestRouter(t)
	sendTransport := newTestTransport(t, router)
	recvTransport := newTestTransport(t, router)
	ctx := context.Background()

	t.Run("unknown producer cannot be consumed", func(t *testing.T) {
		require.False(t, router.CanConsume("PR-missing", router.RTPCapabilities()))
		_, err := recvTransport.Consume(ctx, media.ConsumeOptions{ProducerID: "PR-missing"})
		require.Error(t, err)
	})

	t.Run("simple consumer inherits producer state", func(t *testing.T) {
		producer, err := sendTransport.Produce(ctx, media.ProduceOptions{
			Kind:   media.KindAudio,
			Paused: true,
			RTPParameters: media.RTPParameters{
				Encodings: []media.RTPEncodingParameters{{SSRC: 1111}},
			},
		})
		require.NoError(t, err)

		consumer, err := recvTransport.Consume(ctx, media.ConsumeOptions{
			ProducerID:      producer.ID(),
			RTPCapabilities: router.RTPCapabilities(),
			Paused:          true,
		})
		require.NoError(t, err)
		require.Equal(t, media.ConsumerTypeSimple, consumer.Type())
		require.Equal(t, media.KindAudio, consumer.Kind())
		require.True(t, consumer.(*Consumer).Paused())
		require.True(t, consumer.ProducerPaused())
	})

	t.Run("multiple encodings make a simulcast consumer", func(t *testing.T) {
		producer, err := sendTransport.Produce(ctx, media.ProduceOptions{
			Kind: media.KindVideo,
			RTPParameters: media.RTPParameters{
				Encodings: []media.RTPEncodingParameters{
					{Rid: "r0", SSRC: 2222},
					{Rid: "r1", SSRC: 2223},
				},
			},
		})
		require.NoError(t, err)

		consumer, err := recvTransport.Consume(ctx, media.ConsumeOptions{
			ProducerID:      producer.ID(),
			RTPCapabilities: router.RTPCapabilities(),
			Paused:          true,
		})
		require.NoError(t, err)
		require.Equal(t, media.ConsumerTypeSimulcast, consumer.Type())
	})
}

func TestProducerEvents(t *testing.T) {
	router := newTestRouter(t)
	sendTransport := newTestTransport(t, router)
	recvTransport := newTestTransport(t, router)
	ctx := context.Background()

	producer := produceAudio(t, sendTransport)
	consumer, err := recvTransport.Consume(ctx, media.ConsumeOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: router.RTPCapabilities(),
		Paused:          true,
	})
	require.NoError(t, err)

	pauseChan := make(chan struct{}, 1)
	resumeChan := make(chan struct{}, 1)
	closeChan := make(chan struct{}, 1)
	consumer.OnProducerPause(func() { pauseChan <- struct{}{} })
	consumer.OnProducerResume(func() { resumeChan <- struct{}{} })
	consumer.OnProducerClose(func() { closeChan <- struct{}{} })

	t.Run("pause propagates to consumers", func(t *testing.T) {
		require.NoError(t, producer.Pause(ctx))
		waitSignal(t, pauseChan, "producer pause")
		require.True(t, consumer.ProducerPaused())

		// pausing an already paused producer is a no-op
		require.NoError(t, producer.Pause(ctx))
		requireNoSignal(t, pauseChan)
	})

	t.Run("resume propagates to consumers", func(t *testing.T) {
		require.NoError(t, producer.Resume(ctx))
		waitSignal(t, resumeChan, "producer resume")
		require.False(t, consumer.ProducerPaused())
	})

	t.Run("close cascades to consumers", func(t *testing.T) {
		require.NoError(t, producer.Close())
		waitSignal(t, closeChan, "producer close")
		require.Error(t, consumer.Resume(ctx))
	})
}

func TestTransportClose(t *testing.T) {
	router := newTestRouter(t)
	sendTransport := newTestTransport(t, router)
	recvTransport := newTestTransport(t, router)
	ctx := context.Background()

	producer := produceAudio(t, sendTransport)
	consumer, err := recvTransport.Consume(ctx, media.ConsumeOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: router.RTPCapabilities(),
		Paused:          true,
	})
	require.NoError(t, err)

	producerTransportClose := make(chan struct{}, 1)
	consumerProducerClose := make(chan struct{}, 1)
	producer.OnTransportClose(func() { producerTransportClose <- struct{}{} })
	consumer.OnProducerClose(func() { consumerProducerClose <- struct{}{} })

	require.NoError(t, sendTransport.Close())

	t.Run("producers report transportclose", func(t *testing.T) {
		waitSignal(t, producerTransportClose, "transport close")
	})

	t.Run("downstream consumers report producerclose", func(t *testing.T) {
		waitSignal(t, consumerProducerClose, "producer close")
	})

	t.Run("closed transport rejects produce", func(t *testing.T) {
		_, err := sendTransport.Produce(ctx, media.ProduceOptions{Kind: media.KindAudio})
		require.ErrorIs(t, err, ErrClosed)
	})

	t.Run("double close is a no-op", func(t *testing.T) {
		require.NoError(t, sendTransport.Close())
	})
}

func TestAudioLevelObserver(t *testing.T) {
	router := newTestRouter(t)
	transport := newTestTransport(t, router)
	ctx := context.Background()

	observer, err := router.NewAudioLevelObserver(ctx, 800*time.Millisecond)
	require.NoError(t, err)

	producer := produceAudio(t, transport)
	require.NoError(t, observer.AddProducer(ctx, producer.ID()))

	volumesChan := make(chan []media.AudioLevelVolume, 1)
	silenceChan := make(chan struct{}, 1)
	observer.OnVolumes(func(volumes []media.AudioLevelVolume) { volumesChan <- volumes })
	observer.OnSilence(func() { silenceChan <- struct{}{} })

	local := observer.(*AudioLevelObserver)
	local.EmitVolumes(media.AudioLevelVolume{ProducerID: producer.ID(), Volume: -42})

	select {
	case volumes := <-volumesChan:
		require.Len(t, volumes, 1)
		require.Equal(t, -42, volumes[0].Volume)
	case <-time.After(time.Second):
		t.Fatal("volumes not delivered")
	}

	local.EmitSilence()
	waitSignal(t, silenceChan, "silence")
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("%s not delivered", what)
	}
}

func requireNoSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected event")
	case <-time.After(100 * time.Millisecond):
	}
}
