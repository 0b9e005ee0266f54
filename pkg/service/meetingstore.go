package service

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MeetingStore answers whether a room id corresponds to a scheduled
// meeting. Rooms may only be created for known meetings.
type MeetingStore interface {
	MeetingExists(ctx context.Context, meetingID string) (bool, error)
}

// LocalMeetingStore keeps scheduled meetings in memory. Used in tests and
// development.
type LocalMeetingStore struct {
	lock     sync.RWMutex
	meetings map[string]bool
}

func NewLocalMeetingStore() *LocalMeetingStore {
	return &LocalMeetingStore{
		meetings: make(map[string]bool),
	}
}

func (s *LocalMeetingStore) CreateMeeting(meetingID string) {
	s.lock.Lock()
	s.meetings[meetingID] = true
	s.lock.Unlock()
}

func (s *LocalMeetingStore) DeleteMeeting(meetingID string) {
	s.lock.Lock()
	delete(s.meetings, meetingID)
	s.lock.Unlock()
}

func (s *LocalMeetingStore) MeetingExists(_ context.Context, meetingID string) (bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.meetings[meetingID], nil
}

// PermissiveMeetingStore accepts every meeting id. Development mode only.
type PermissiveMeetingStore struct{}

func (PermissiveMeetingStore) MeetingExists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

// CachedMeetingStore fronts another store with a small expiring cache so a
// room full of peers polling does not hammer the durable store. Only
// positive answers are cached: a meeting scheduled after a miss must be
// seen promptly.
type CachedMeetingStore struct {
	inner MeetingStore
	cache *expirable.LRU[string, bool]
}

func NewCachedMeetingStore(inner MeetingStore, size int, ttl time.Duration) *CachedMeetingStore {
	return &CachedMeetingStore{
		inner: inner,
		cache: expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

func (s *CachedMeetingStore) MeetingExists(ctx context.Context, meetingID string) (bool, error) {
	if exists, ok := s.cache.Get(meetingID); ok && exists {
		return true, nil
	}
	exists, err := s.inner.MeetingExists(ctx, meetingID)
	if err != nil {
		return false, err
	}
	if exists {
		s.cache.Add(meetingID, true)
	}
	return exists, nil
}
