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

package config

import (
	"bytes"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/meetkit/meetkit-server/pkg/logger"
)

const (
	EngineLocal = "local"
)

type Config struct {
	Port           uint32        `yaml:"port,omitempty"`
	BindAddresses  []string      `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32        `yaml:"prometheus_port,omitempty"`
	Media          MediaConfig   `yaml:"media,omitempty"`
	Room           RoomConfig    `yaml:"room,omitempty"`
	Redis          RedisConfig   `yaml:"redis,omitempty"`
	Logging        LoggingConfig `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type MediaConfig struct {
	// engine adapter to use. "local" is the in-process engine; a remote
	// engine adapter plugs in here.
	Engine string `yaml:"engine,omitempty"`
	// number of media workers, defaults to the number of CPU cores
	NumWorkers        int    `yaml:"num_workers,omitempty"`
	RTCPortRangeStart uint32 `yaml:"rtc_port_range_start,omitempty"`
	RTCPortRangeEnd   uint32 `yaml:"rtc_port_range_end,omitempty"`

	ListenIPs                       []ListenIP    `yaml:"listen_ips,omitempty"`
	InitialAvailableOutgoingBitrate uint64        `yaml:"initial_available_outgoing_bitrate,omitempty"`
	Codecs                          []CodecConfig `yaml:"codecs,omitempty"`
}

type ListenIP struct {
	IP          string `yaml:"ip,omitempty"`
	AnnouncedIP string `yaml:"announced_ip,omitempty"`
}

type CodecConfig struct {
	Kind       string                 `yaml:"kind,omitempty"`
	MimeType   string                 `yaml:"mime_type,omitempty"`
	ClockRate  uint32                 `yaml:"clock_rate,omitempty"`
	Channels   uint16                 `yaml:"channels,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty"`
}

type RoomConfig struct {
	// interval at which the audio level observer reports the loudest producer
	AudioLevelInterval time.Duration `yaml:"audio_level_interval,omitempty"`
	// a peer that has not been seen for this long is considered stale.
	// recorded on every heartbeat, but nothing evicts stale peers yet;
	// clients are expected to send an explicit leave.
	PeerStaleTimeout time.Duration `yaml:"peer_stale_timeout,omitempty"`
}

type RedisConfig struct {
	Address  string `yaml:"address,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

func (r *RedisConfig) IsConfigured() bool {
	return r.Address != ""
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

func NewConfig(confString string, strictMode bool, c *cli.Context) (*Config, error) {
	conf := &Config{
		Port: 7880,
		Media: MediaConfig{
			Engine:                          EngineLocal,
			RTCPortRangeStart:               40000,
			RTCPortRangeEnd:                 49999,
			ListenIPs:                       []ListenIP{{IP: "127.0.0.1"}},
			InitialAvailableOutgoingBitrate: 800000,
			Codecs:                          DefaultCodecs(),
		},
		Room: RoomConfig{
			AudioLevelInterval: 800 * time.Millisecond,
			PeerStaleTimeout:   15 * time.Second,
		},
	}
	if confString != "" {
		decoder := yaml.NewDecoder(bytes.NewReader([]byte(confString)))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c); err != nil {
			return nil, err
		}
	}

	if conf.Media.NumWorkers == 0 {
		conf.Media.NumWorkers = runtime.NumCPU()
	}
	if len(conf.Media.Codecs) == 0 {
		conf.Media.Codecs = DefaultCodecs()
	}
	return conf, nil
}

// DefaultCodecs is the router codec set used for every room.
func DefaultCodecs() []CodecConfig {
	return []CodecConfig{
		{
			Kind:      "audio",
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      "video",
			MimeType:  "video/VP8",
			ClockRate: 90000,
		},
		{
			Kind:      "video",
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "4d0032",
				"level-asymmetry-allowed": 1,
			},
		},
		{
			Kind:      "video",
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}

func (conf *Config) updateFromCLI(c *cli.Context) error {
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	if c.IsSet("redis-host") {
		conf.Redis.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Redis.Password = c.String("redis-password")
	}
	if c.Bool("dev") {
		conf.Development = true
		conf.Logging.Level = "debug"
	}
	return nil
}

func InitLoggerFromConfig(config LoggingConfig) {
	if config.JSON {
		logger.InitProduction(config.Level)
	} else {
		logger.InitDevelopment(config.Level)
	}
}
