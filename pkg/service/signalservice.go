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
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/pkg/media"
	"github.com/meetkit/meetkit-server/pkg/rtc"
)

// signalRequest is the union body of every /signal endpoint. Fields not used
// by a given operation are simply ignored.
type signalRequest struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId"`
	Name        string `json:"name"`
	Direction   string `json:"direction"`
	TransportID string `json:"transportId"`

	DTLSParameters media.DTLSParameters `json:"dtlsParameters"`

	Kind          media.Kind          `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
	Paused        *bool               `json:"paused"`
	MediaTag      string              `json:"mediaTag"`
	AppData       struct {
		MediaTag string `json:"mediaTag"`
	} `json:"appData"`

	ProducerID   string `json:"producerId"`
	ConsumerID   string `json:"consumerId"`
	SpatialLayer *int   `json:"spatialLayer"`
}

// SignalService exposes the signaling operations over plain HTTP POST.
// Recoverable failures are reported in-band as {"error": ...} with a 200 so
// clients can surface them without special-casing transport errors.
type SignalService struct {
	roomManager *RoomManager
}

func NewSignalService(roomManager *RoomManager) *SignalService {
	return &SignalService{roomManager: roomManager}
}

func (s *SignalService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	op := strings.TrimPrefix(r.URL.Path, "/signal/")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" {
		writeError(w, http.StatusBadRequest, ErrRoomIDRequired.Error())
		return
	}
	if req.MediaTag == "" {
		req.MediaTag = req.AppData.MediaTag
	}

	room, err := s.roomManager.GetOrCreateRoom(r.Context(), req.RoomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Errorw("could not resolve room", err, "room", req.RoomID, "op", op)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload, err := s.dispatch(r, op, room, &req)
	if err != nil {
		// operation-level failures go back in-band
		logger.Debugw("signal operation failed", "room", req.RoomID, "peer", req.PeerID,
			"op", op, "error", err)
		writeJSON(w, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, payload)
}

func (s *SignalService) dispatch(r *http.Request, op string, room *rtc.Room, req *signalRequest) (interface{}, error) {
	ctx := r.Context()
	switch op {
	case "join-as-new-peer":
		return room.Join(ctx, req.PeerID, req.Name)
	case "sync":
		return room.Sync(req.PeerID)
	case "leave":
		if err := room.RemovePeer(req.PeerID); err != nil {
			return nil, err
		}
		return map[string]bool{"left": true}, nil
	case "create-transport":
		info, err := room.CreateTransport(ctx, req.PeerID, rtc.Direction(req.Direction))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"transportOptions": info}, nil
	case "connect-transport":
		if err := room.ConnectTransport(ctx, req.TransportID, req.DTLSParameters); err != nil {
			return nil, err
		}
		return map[string]bool{"connected": true}, nil
	case "close-transport":
		if err := room.CloseTransport(req.TransportID); err != nil {
			return nil, err
		}
		return map[string]bool{"closed": true}, nil
	case "send-track":
		paused := false
		if req.Paused != nil {
			paused = *req.Paused
		}
		id, err := room.Produce(ctx, req.PeerID, req.TransportID, req.Kind,
			req.RTPParameters, req.MediaTag, paused)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id}, nil
	case "init-consumers":
		if err := room.InitConsumers(ctx, req.PeerID); err != nil {
			return nil, err
		}
		return map[string]interface{}{}, nil
	case "close-producer":
		if err := room.CloseProducer(req.ProducerID); err != nil {
			return nil, err
		}
		return map[string]bool{"closed": true}, nil
	case "pause-producer":
		if err := room.PauseProducer(ctx, req.PeerID, req.ProducerID); err != nil {
			return nil, err
		}
		return map[string]bool{"paused": true}, nil
	case "resume-producer":
		if err := room.ResumeProducer(ctx, req.PeerID, req.ProducerID); err != nil {
			return nil, err
		}
		return map[string]bool{"resumed": true}, nil
	case "close-consumer":
		if err := room.CloseConsumer(req.ConsumerID); err != nil {
			return nil, err
		}
		return map[string]bool{"closed": true}, nil
	case "pause-consumer":
		if err := room.PauseConsumer(ctx, req.ConsumerID); err != nil {
			return nil, err
		}
		return map[string]bool{"paused": true}, nil
	case "resume-consumer":
		if err := room.ResumeConsumer(ctx, req.ConsumerID); err != nil {
			return nil, err
		}
		return map[string]bool{"resumed": true}, nil
	case "consumer-set-layers":
		spatial := 0
		if req.SpatialLayer != nil {
			spatial = *req.SpatialLayer
		}
		if err := room.SetConsumerLayers(ctx, req.ConsumerID, spatial); err != nil {
			return nil, err
		}
		return map[string]bool{"layersSet": true}, nil
	default:
		return nil, errors.New("unknown signal operation: " + op)
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warnw("could not write response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
