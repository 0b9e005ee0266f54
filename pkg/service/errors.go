package service

import "errors"

var (
	ErrRoomNotFound      = errors.New("requested room does not correspond to a known meeting")
	ErrRoomIDRequired    = errors.New("roomId is required")
	ErrNoAvailableWorker = errors.New("no media workers available")
)
