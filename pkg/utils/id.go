package utils

import (
	"github.com/lithammer/shortuuid/v3"
)

const (
	NodePrefix      = "ND-"
	WorkerPrefix    = "W-"
	RouterPrefix    = "RT-"
	ObserverPrefix  = "AO-"
	TransportPrefix = "T-"
	ProducerPrefix  = "PR-"
	ConsumerPrefix  = "CO-"
)

func NewGuid(prefix string) string {
	return prefix + shortuuid.New()
}
