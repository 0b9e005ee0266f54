// Package medialocal is an in-process implementation of the media engine
// boundary. Objects are pure bookkeeping: no packets flow, but lifecycle
// semantics match the real engine — closing a transport closes its producers
// and consumers, closing a producer closes its consumers, and all events are
// delivered asynchronously on engine goroutines.
//
// It backs the coordinator in development mode and in tests. A remote
// engine adapter implements the same interfaces.
package medialocal

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"

	"github.com/meetkit/meetkit-server/pkg/media"
	"github.com/meetkit/meetkit-server/pkg/utils"
)

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) NewWorker(_ context.Context, opts media.WorkerOptions) (media.Worker, error) {
	return &Worker{
		id:        utils.NewGuid(utils.WorkerPrefix),
		opts:      opts,
		portAlloc: atomic.NewUint32(opts.RTCPortRangeStart),
	}, nil
}

type Worker struct {
	id        string
	opts      media.WorkerOptions
	portAlloc *atomic.Uint32

	mu     sync.Mutex
	diedFn func(err error)
	closed bool
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) NewRouter(_ context.Context, codecs []media.RTPCodecCapability) (media.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	return &Router{
		id:         utils.NewGuid(utils.RouterPrefix),
		worker:     w,
		caps:       media.RTPCapabilities{Codecs: codecs},
		producers:  make(map[string]*Producer),
		transports: make(map[string]*Transport),
	}, nil
}

func (w *Worker) OnDied(f func(err error)) {
	w.mu.Lock()
	w.diedFn = f
	w.mu.Unlock()
}

// SimulateDied delivers a worker "died" event, as if the worker process
// crashed underneath us.
func (w *Worker) SimulateDied(err error) {
	w.mu.Lock()
	f := w.diedFn
	w.mu.Unlock()
	if f != nil {
		go f(err)
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *Worker) nextPort() uint16 {
	p := w.portAlloc.Inc()
	if w.opts.RTCPortRangeEnd > w.opts.RTCPortRangeStart {
		span := w.opts.RTCPortRangeEnd - w.opts.RTCPortRangeStart
		p = w.opts.RTCPortRangeStart + (p % span)
	}
	return uint16(p)
}

// Router owns every object beneath it; its lock guards all of their state.
// Callbacks are collected under the lock and fired after release.
type Router struct {
	id     string
	worker *Worker
	caps   media.RTPCapabilities

	mu         sync.Mutex
	producers  map[string]*Producer
	transports map[string]*Transport
	observer   *AudioLevelObserver
	closed     bool
}

func (r *Router) ID() string {
	return r.id
}

func (r *Router) RTPCapabilities() media.RTPCapabilities {
	return r.caps
}

func (r *Router) NewAudioLevelObserver(_ context.Context, interval time.Duration) (media.AudioLevelObserver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	o := &AudioLevelObserver{
		id:        utils.NewGuid(utils.ObserverPrefix),
		router:    r,
		interval:  interval,
		producers: make(map[string]bool),
	}
	r.observer = o
	return o, nil
}

func (r *Router) NewWebRTCTransport(_ context.Context, opts media.TransportOptions) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	id := utils.NewGuid(utils.TransportPrefix)
	t := &Transport{
		id:        id,
		router:    r,
		opts:      opts,
		info:      r.newConnectInfo(id, opts),
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	r.transports[id] = t
	return t, nil
}

// Transport returns a live transport by id, for state inspection.
func (r *Router) Transport(id string) *Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[id]
}

func (r *Router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.producers[producerID]; !ok {
		return false
	}
	return len(caps.Codecs) > 0
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

func (r *Router) newConnectInfo(id string, opts media.TransportOptions) media.TransportConnectInfo {
	info := media.TransportConnectInfo{
		ID: id,
		ICEParameters: media.ICEParameters{
			UsernameFragment: randomToken(8),
			Password:         randomToken(24),
			ICELite:          true,
		},
		DTLSParameters: media.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: randomFingerprint()},
			},
		},
	}
	var priority uint32 = 1<<24 | 0xffff
	for _, ip := range opts.ListenIPs {
		addr := ip.AnnouncedIP
		if addr == "" {
			addr = ip.IP
		}
		info.ICECandidates = append(info.ICECandidates, media.ICECandidate{
			Foundation: "udpcandidate",
			Priority:   priority,
			Address:    addr,
			Protocol:   webrtc.ICEProtocolUDP,
			Port:       r.worker.nextPort(),
			Typ:        webrtc.ICECandidateTypeHost,
			Component:  1,
		})
		priority--
	}
	return info
}

type AudioLevelObserver struct {
	id       string
	router   *Router
	interval time.Duration

	producers map[string]bool
	volumesFn func([]media.AudioLevelVolume)
	silenceFn func()
	closed    bool
}

func (o *AudioLevelObserver) ID() string {
	return o.id
}

func (o *AudioLevelObserver) Interval() time.Duration {
	return o.interval
}

func (o *AudioLevelObserver) AddProducer(_ context.Context, producerID string) error {
	o.router.mu.Lock()
	defer o.router.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.router.producers[producerID]; !ok {
		return fmt.Errorf("producer %s not found", producerID)
	}
	o.producers[producerID] = true
	return nil
}

func (o *AudioLevelObserver) OnVolumes(f func(volumes []media.AudioLevelVolume)) {
	o.router.mu.Lock()
	o.volumesFn = f
	o.router.mu.Unlock()
}

func (o *AudioLevelObserver) OnSilence(f func()) {
	o.router.mu.Lock()
	o.silenceFn = f
	o.router.mu.Unlock()
}

// EmitVolumes delivers a "volumes" report on an engine goroutine.
func (o *AudioLevelObserver) EmitVolumes(volumes ...media.AudioLevelVolume) {
	o.router.mu.Lock()
	f := o.volumesFn
	closed := o.closed
	o.router.mu.Unlock()
	if f != nil && !closed {
		go f(volumes)
	}
}

// EmitSilence delivers a "silence" event on an engine goroutine.
func (o *AudioLevelObserver) EmitSilence() {
	o.router.mu.Lock()
	f := o.silenceFn
	closed := o.closed
	o.router.mu.Unlock()
	if f != nil && !closed {
		go f()
	}
}

func (o *AudioLevelObserver) Close() error {
	o.router.mu.Lock()
	o.closed = true
	o.router.mu.Unlock()
	return nil
}

func randomToken(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}

func randomFingerprint() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	parts := make([]string, len(buf))
	for i, b := range buf {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
