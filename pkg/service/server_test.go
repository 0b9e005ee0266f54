package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meetkit/meetkit-server/pkg/media/medialocal"
)

func freePort(t *testing.T) uint32 {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint32(port)
}

func newTestServer(t *testing.T) (*MeetkitServer, uint32) {
	conf := testConfig(t)
	conf.Port = freePort(t)
	conf.BindAddresses = []string{"127.0.0.1"}

	pool, err := NewWorkerPool(context.Background(), medialocal.New(), conf.Media)
	require.NoError(t, err)

	notifier := NewWSNotifier()
	rm := NewRoomManager(conf, NewLocalMeetingStore(), pool, notifier)
	return NewMeetkitServer(conf, NewSignalService(rm), notifier, rm, pool), conf.Port
}

func TestServerStartStop(t *testing.T) {
	s, port := newTestServer(t)

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Start() }()

	// serves on the configured bind address
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	require.Eventually(t, func() bool {
		res, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	// racing stop paths settle on a single shutdown
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		go func() {
			defer wg.Done()
			s.fail(errors.New("worker died"))
		}()
	}
	wg.Wait()

	select {
	case err := <-serveErr:
		// nil when the stop won the race, the failure otherwise
		if err != nil {
			require.EqualError(t, err, "worker died")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.False(t, s.IsRunning())
}
