package rtc

import "errors"

var (
	ErrRoomClosed        = errors.New("room has already closed")
	ErrAlreadyJoined     = errors.New("a peer with the same id is already in the room")
	ErrNotConnected      = errors.New("not connected")
	ErrTransportNotFound = errors.New("server-side transport not found")
	ErrProducerNotFound  = errors.New("server-side producer not found")
	ErrConsumerNotFound  = errors.New("server-side consumer not found")
	ErrCannotConsume     = errors.New("peer capabilities cannot consume producer")
)
