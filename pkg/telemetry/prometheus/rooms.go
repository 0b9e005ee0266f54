// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const namespace = "meetkit"

var (
	roomCurrent     atomic.Int32
	peerCurrent     atomic.Int32
	producerCurrent atomic.Int32
	consumerCurrent atomic.Int32

	promRoomCurrent     prometheus.Gauge
	promPeerCurrent     prometheus.Gauge
	promProducerCurrent prometheus.Gauge
	promConsumerCurrent prometheus.Gauge
)

func Init(nodeID string) {
	constLabels := prometheus.Labels{"node_id": nodeID}

	promRoomCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "room",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promPeerCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "peer",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promProducerCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "producer",
		Name:        "total",
		ConstLabels: constLabels,
	})
	promConsumerCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "consumer",
		Name:        "total",
		ConstLabels: constLabels,
	})

	prometheus.MustRegister(promRoomCurrent)
	prometheus.MustRegister(promPeerCurrent)
	prometheus.MustRegister(promProducerCurrent)
	prometheus.MustRegister(promConsumerCurrent)
}

func RoomStarted() {
	if promRoomCurrent != nil {
		promRoomCurrent.Add(1)
	}
	roomCurrent.Inc()
}

func RoomEnded() {
	if promRoomCurrent != nil {
		promRoomCurrent.Sub(1)
	}
	roomCurrent.Dec()
}

func AddPeer() {
	if promPeerCurrent != nil {
		promPeerCurrent.Add(1)
	}
	peerCurrent.Inc()
}

func SubPeer() {
	if promPeerCurrent != nil {
		promPeerCurrent.Sub(1)
	}
	peerCurrent.Dec()
}

func AddProducer() {
	if promProducerCurrent != nil {
		promProducerCurrent.Add(1)
	}
	producerCurrent.Inc()
}

func SubProducer() {
	if promProducerCurrent != nil {
		promProducerCurrent.Sub(1)
	}
	producerCurrent.Dec()
}

func AddConsumer() {
	if promConsumerCurrent != nil {
		promConsumerCurrent.Add(1)
	}
	consumerCurrent.Inc()
}

func SubConsumer() {
	if promConsumerCurrent != nil {
		promConsumerCurrent.Sub(1)
	}
	consumerCurrent.Dec()
}

// current counts, for the node snapshot
func RoomsCurrent() int32 {
	return roomCurrent.Load()
}

func PeersCurrent() int32 {
	return peerCurrent.Load()
}
