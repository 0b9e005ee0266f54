package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	conf, err := NewConfig("", true, nil)
	require.NoError(t, err)

	require.Equal(t, uint32(7880), conf.Port)
	require.Equal(t, EngineLocal, conf.Media.Engine)
	require.Equal(t, uint32(40000), conf.Media.RTCPortRangeStart)
	require.Equal(t, uint32(49999), conf.Media.RTCPortRangeEnd)
	require.Equal(t, uint64(800000), conf.Media.InitialAvailableOutgoingBitrate)
	require.Equal(t, 800*time.Millisecond, conf.Room.AudioLevelInterval)
	require.Equal(t, 15*time.Second, conf.Room.PeerStaleTimeout)
	require.NotZero(t, conf.Media.NumWorkers)
	require.False(t, conf.Redis.IsConfigured())

	// opus, VP8 and both H264 profiles
	require.Len(t, conf.Media.Codecs, 4)
	require.Equal(t, "audio/opus", conf.Media.Codecs[0].MimeType)
}

func TestConfigUpdate(t *testing.T) {
	conf, err := NewConfig(`
port: 8888
prometheus_port: 9999
media:
  num_workers: 4
  rtc_port_range_start: 50000
  rtc_port_range_end: 50999
  listen_ips:
    - ip: 0.0.0.0
      announced_ip: 203.0.113.10
room:
  audio_level_interval: 500ms
redis:
  address: localhost:6379
`, true, nil)
	require.NoError(t, err)

	require.Equal(t, uint32(8888), conf.Port)
	require.Equal(t, uint32(9999), conf.PrometheusPort)
	require.Equal(t, 4, conf.Media.NumWorkers)
	require.Equal(t, uint32(50000), conf.Media.RTCPortRangeStart)
	require.Equal(t, "203.0.113.10", conf.Media.ListenIPs[0].AnnouncedIP)
	require.Equal(t, 500*time.Millisecond, conf.Room.AudioLevelInterval)
	require.True(t, conf.Redis.IsConfigured())
}

func TestConfigUnknownKeys(t *testing.T) {
	_, err := NewConfig("unknown_key: true", true, nil)
	require.Error(t, err)

	_, err = NewConfig("unknown_key: true", false, nil)
	require.NoError(t, err)
}
