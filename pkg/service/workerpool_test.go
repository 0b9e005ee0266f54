package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meetkit/meetkit-server/pkg/config"
	"github.com/meetkit/meetkit-server/pkg/media/medialocal"
)

func TestWorkerPoolAssign(t *testing.T) {
	conf := config.MediaConfig{
		NumWorkers:        3,
		RTCPortRangeStart: 40000,
		RTCPortRangeEnd:   49999,
	}
	pool, err := NewWorkerPool(context.Background(), medialocal.New(), conf)
	require.NoError(t, err)
	defer pool.Close()

	require.Equal(t, 3, pool.NumWorkers())

	t.Run("round robin cycles through all workers", func(t *testing.T) {
		counts := map[string]int{}
		for i := 0; i < 9; i++ {
			w, err := pool.Assign()
			require.NoError(t, err)
			counts[w.ID()]++
		}
		require.Len(t, counts, 3)
		for _, n := range counts {
			require.Equal(t, 3, n)
		}
	})
}

func TestWorkerPoolDied(t *testing.T) {
	conf := config.MediaConfig{NumWorkers: 1, RTCPortRangeStart: 40000, RTCPortRangeEnd: 49999}
	pool, err := NewWorkerPool(context.Background(), medialocal.New(), conf)
	require.NoError(t, err)
	defer pool.Close()

	diedChan := make(chan string, 1)
	pool.OnWorkerDied(func(workerID string, err error) {
		diedChan <- workerID
	})

	w, err := pool.Assign()
	require.NoError(t, err)
	w.(*medialocal.Worker).SimulateDied(errors.New("segfault"))

	select {
	case id := <-diedChan:
		require.Equal(t, w.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("worker died hook not invoked")
	}
}
