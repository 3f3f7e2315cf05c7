// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package maintenance_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorg-dev/memorg/internal/maintenance"
	"github.com/memorg-dev/memorg/internal/memory"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

type fakeTierer struct {
	calls   atomic.Int32
	block   bool
	entered chan struct{}
	err     error
}

func (f *fakeTierer) RunTiering(ctx context.Context) (memory.Report, error) {
	n := f.calls.Add(1)
	if f.block {
		if n == 1 {
			close(f.entered)
		}
		<-ctx.Done()
		return memory.Report{}, ctx.Err()
	}
	if f.err != nil {
		return memory.Report{}, f.err
	}
	return memory.Report{Sessions: 2, Warmed: 1}, nil
}

func TestRunOnce(t *testing.T) {
	tierer := &fakeTierer{}
	s, err := maintenance.New(maintenance.Config{}, tierer, nil)
	require.NoError(t, err)
	defer s.Stop()

	assert.Nil(t, s.LastRun())
	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memory.Report{Sessions: 2, Warmed: 1}, rep)

	last := s.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, rep, last.Report)
	assert.NoError(t, last.Err)
	assert.Equal(t, int32(1), tierer.calls.Load())
}

func TestRunOnce_Failure(t *testing.T) {
	tierer := &fakeTierer{err: memerr.New(memerr.CodeStoreHierarchyCorrupt, "bad tree")}
	s, err := maintenance.New(maintenance.Config{}, tierer, nil)
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, memerr.IsCorruption(err))
	assert.ErrorIs(t, s.LastRun().Err, err)
}

func TestScheduledRuns(t *testing.T) {
	tierer := &fakeTierer{}
	s, err := maintenance.New(maintenance.Config{Schedule: "@every 1s"}, tierer, nil)
	require.NoError(t, err)
	s.Start()
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return tierer.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestStopCancelsInFlight(t *testing.T) {
	tierer := &fakeTierer{block: true, entered: make(chan struct{})}
	s, err := maintenance.New(maintenance.Config{}, tierer, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		errCh <- err
	}()
	<-tierer.entered

	s.Stop()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err = s.RunOnce(context.Background())
	assert.True(t, memerr.HasCode(err, memerr.CodeMaintenanceFailure), "stopped scheduler refuses work")
}

func TestTimeout(t *testing.T) {
	tierer := &fakeTierer{block: true, entered: make(chan struct{})}
	s, err := maintenance.New(maintenance.Config{Timeout: 20 * time.Millisecond}, tierer, nil)
	require.NoError(t, err)
	defer s.Stop()

	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Validation(t *testing.T) {
	tests := map[string]maintenance.Config{
		"bad schedule":     {Schedule: "every ten minutes"},
		"negative timeout": {Schedule: "@every 10m", Timeout: -time.Second},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := maintenance.New(cfg, &fakeTierer{}, nil)
			require.Error(t, err)
			assert.True(t, memerr.IsInvalidInput(err))
		})
	}

	_, err := maintenance.New(maintenance.DefaultConfig(), nil, nil)
	assert.True(t, memerr.IsInvalidInput(err))
	assert.NoError(t, maintenance.DefaultConfig().Validate())
}

func TestSchedulerDrivesStore(t *testing.T) {
	h := newStoreHarness(t)
	s, err := maintenance.New(maintenance.Config{}, h.store, nil)
	require.NoError(t, err)
	defer s.Stop()

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sessions)
}
