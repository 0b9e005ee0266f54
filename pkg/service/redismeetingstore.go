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

package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/meetkit/meetkit-server/pkg/config"
)

const (
	// set of scheduled meeting ids
	MeetingsKey = "meetings"
)

// RedisMeetingStore reads meeting membership from the shared redis the
// scheduling service writes to.
type RedisMeetingStore struct {
	rc *redis.Client
}

func NewRedisMeetingStore(rc *redis.Client) *RedisMeetingStore {
	return &RedisMeetingStore{rc: rc}
}

func NewRedisClient(conf *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Username: conf.Username,
		Password: conf.Password,
		DB:       conf.DB,
	})
}

func (s *RedisMeetingStore) MeetingExists(ctx context.Context, meetingID string) (bool, error) {
	exists, err := s.rc.SIsMember(ctx, MeetingsKey, meetingID).Result()
	if err != nil {
		return false, errors.Wrap(err, "could not look up meeting")
	}
	return exists, nil
}

// CreateMeeting registers a meeting id; normally the scheduling service
// owns this, but the CLI and tests use it directly.
func (s *RedisMeetingStore) CreateMeeting(ctx context.Context, meetingID string) error {
	if err := s.rc.SAdd(ctx, MeetingsKey, meetingID).Err(); err != nil {
		return errors.Wrap(err, "could not create meeting")
	}
	return nil
}
