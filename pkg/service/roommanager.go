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
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meetkit/meetkit-server/pkg/config"
	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/pkg/media"
	"github.com/meetkit/meetkit-server/pkg/rtc"
)

// RoomManager is the registry of active rooms. Rooms are created on first
// reference, gated by the meeting store, and removed the instant their
// last peer leaves. First-access for the same room id is serialized so two
// near-simultaneous creations never yield two rooms.
type RoomManager struct {
	lock sync.RWMutex

	conf         *config.Config
	meetingStore MeetingStore
	pool         *WorkerPool
	notifier     rtc.Notifier

	rooms         map[string]*rtc.Room
	creationGroup singleflight.Group
}

func NewRoomManager(
	conf *config.Config,
	meetingStore MeetingStore,
	pool *WorkerPool,
	notifier rtc.Notifier,
) *RoomManager {
	return &RoomManager{
		conf:         conf,
		meetingStore: meetingStore,
		pool:         pool,
		notifier:     notifier,
		rooms:        make(map[string]*rtc.Room),
	}
}

func (r *RoomManager) GetRoom(roomID string) *rtc.Room {
	r.lock.RLock()
	defer r.lock.RUnlock()
	room := r.rooms[roomID]
	if room != nil && room.IsClosed() {
		return nil
	}
	return room
}

// GetOrCreateRoom returns the existing room or creates it: the meeting
// store must confirm the id, a worker is assigned, and a router plus audio
// level observer are created on it.
func (r *RoomManager) GetOrCreateRoom(ctx context.Context, roomID string) (*rtc.Room, error) {
	if room := r.GetRoom(roomID); room != nil {
		return room, nil
	}

	room, err, _ := r.creationGroup.Do(roomID, func() (interface{}, error) {
		// a concurrent caller may have won the race
		if room := r.GetRoom(roomID); room != nil {
			return room, nil
		}
		return r.createRoom(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return room.(*rtc.Room), nil
}

func (r *RoomManager) createRoom(ctx context.Context, roomID string) (*rtc.Room, error) {
	exists, err := r.meetingStore.MeetingExists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRoomNotFound
	}

	worker, err := r.pool.Assign()
	if err != nil {
		return nil, err
	}
	router, err := worker.NewRouter(ctx, codecsFromConfig(r.conf.Media.Codecs))
	if err != nil {
		return nil, err
	}
	observer, err := router.NewAudioLevelObserver(ctx, r.conf.Room.AudioLevelInterval)
	if err != nil {
		_ = router.Close()
		return nil, err
	}

	room := rtc.NewRoom(rtc.RoomParams{
		ID:               roomID,
		WorkerID:         worker.ID(),
		Router:           router,
		Observer:         observer,
		Notifier:         r.notifier,
		TransportOptions: transportOptionsFromConfig(r.conf.Media),
	})
	room.OnClose(func() {
		r.removeRoom(roomID, room)
	})

	r.lock.Lock()
	r.rooms[roomID] = room
	r.lock.Unlock()

	logger.Infow("room created", "room", roomID, "workerId", worker.ID())
	return room, nil
}

func (r *RoomManager) removeRoom(roomID string, room *rtc.Room) {
	r.lock.Lock()
	if r.rooms[roomID] == room {
		delete(r.rooms, roomID)
	}
	r.lock.Unlock()
	logger.Infow("room removed", "room", roomID)
}

func (r *RoomManager) NumRooms() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.rooms)
}

// Stop closes every room; used on server shutdown.
func (r *RoomManager) Stop() {
	r.lock.RLock()
	rooms := make([]*rtc.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.lock.RUnlock()

	for _, room := range rooms {
		room.Close()
	}
}

func codecsFromConfig(codecs []config.CodecConfig) []media.RTPCodecCapability {
	out := make([]media.RTPCodecCapability, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, media.RTPCodecCapability{
			Kind:       media.Kind(c.Kind),
			MimeType:   c.MimeType,
			ClockRate:  c.ClockRate,
			Channels:   c.Channels,
			Parameters: c.Parameters,
		})
	}
	return out
}

func transportOptionsFromConfig(conf config.MediaConfig) media.TransportOptions {
	opts := media.TransportOptions{
		InitialAvailableOutgoingBitrate: conf.InitialAvailableOutgoingBitrate,
	}
	for _, ip := range conf.ListenIPs {
		opts.ListenIPs = append(opts.ListenIPs, media.ListenIP{
			IP:          ip.IP,
			AnnouncedIP: ip.AnnouncedIP,
		})
	}
	return opts
}
