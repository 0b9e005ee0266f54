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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni"
	"go.uber.org/atomic"

	"github.com/meetkit/meetkit-server/pkg/config"
	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/version"
)

type MeetkitServer struct {
	config      *config.Config
	roomManager *RoomManager
	notifier    *WSNotifier
	pool        *WorkerPool
	httpServer  *http.Server
	promServer  *http.Server
	running     atomic.Bool
	doneChan    chan error
}

func NewMeetkitServer(conf *config.Config,
	signalService *SignalService,
	notifier *WSNotifier,
	roomManager *RoomManager,
	pool *WorkerPool,
) *MeetkitServer {
	s := &MeetkitServer{
		config:      conf,
		roomManager: roomManager,
		notifier:    notifier,
		pool:        pool,
	}

	middlewares := []negroni.Handler{
		// always the first
		negroni.NewRecovery(),
		cors.AllowAll(),
	}

	mux := http.NewServeMux()
	mux.Handle("/signal/", signalService)
	mux.Handle("/ws", notifier)
	mux.HandleFunc("/", s.health)

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, middlewares...),
	}

	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: promhttp.Handler(),
		}
	}

	// a dead worker means every room on it lost its media state; the process
	// exits and the supervisor restarts it clean
	pool.OnWorkerDied(func(workerID string, err error) {
		s.fail(fmt.Errorf("media worker %s died: %w", workerID, err))
	})

	return s
}

func (s *MeetkitServer) IsRunning() bool {
	return s.running.Load()
}

func (s *MeetkitServer) Start() error {
	if s.running.Load() {
		return errors.New("already running")
	}

	s.doneChan = make(chan error, 1)

	// ensure we could listen
	addresses := s.config.BindAddresses
	if len(addresses) == 0 {
		addresses = []string{""}
	}
	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.Port))))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	if s.promServer != nil {
		promLn, err := net.Listen("tcp", s.promServer.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		go func() {
			_ = s.promServer.Serve(promLn)
		}()
	}

	for _, ln := range listeners {
		go func(l net.Listener) {
			logger.Infow("starting meetkit server", "version", version.Version,
				"address", l.Addr().String(), "workers", s.pool.NumWorkers())
			_ = s.httpServer.Serve(l)
		}(ln)
	}

	s.running.Store(true)

	runErr := <-s.doneChan

	// wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(ctx)
	}

	s.roomManager.Stop()
	s.notifier.Stop()
	s.pool.Close()

	return runErr
}

func (s *MeetkitServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.doneChan <- nil
}

func (s *MeetkitServer) fail(err error) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.doneChan <- err
}

func (s *MeetkitServer) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
