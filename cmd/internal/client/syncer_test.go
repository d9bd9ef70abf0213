package client

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncer_TickDrainsBeforePolling(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	api := &fakeAPI{}
	outbox := NewOutbox(store, "alice")
	require.NoError(t, outbox.Enqueue(pending("c1")))

	s := NewSyncer(NewCursor(api, store, "alice"), outbox, api, nil, WithSyncLogger(discardLogger()))
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"send:c1", "poll"}, api.callLog())
}

func TestSyncer_TickSwallowsTransientFailures(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	api := &fakeAPI{
		sendFn: func(v1.SendMessageRequest) (v1.MessageDTO, error) { return v1.MessageDTO{}, errNetwork },
		newFn:  func(time.Time) ([]v1.MessageDTO, error) { return nil, errUnavailable },
	}
	outbox := NewOutbox(store, "alice", WithOutboxLogger(discardLogger()))
	require.NoError(t, outbox.Enqueue(pending("c1")))

	s := NewSyncer(NewCursor(api, store, "alice"), outbox, api, nil, WithSyncLogger(discardLogger()))
	require.NoError(t, s.Tick(context.Background()))

	n, err := outbox.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncer_TickReturnsConsumerErrors(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{newFn: func(time.Time) ([]v1.MessageDTO, error) {
		return []v1.MessageDTO{msgAt("m1", "bob", "alice", time.Now())}, nil
	}}
	boom := errors.New("consumer broke")
	s := NewSyncer(NewCursor(api, NewMemoryStorage(), "alice"), nil, nil,
		func(context.Context, []v1.MessageDTO) error { return boom },
		WithSyncLogger(discardLogger()))

	require.ErrorIs(t, s.Tick(context.Background()), boom)
}

func TestSyncer_OfflinePausesAndOnlineWakes(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	api := &fakeAPI{newFn: func(time.Time) ([]v1.MessageDTO, error) {
		polls.Add(1)
		return nil, nil
	}}

	// A long interval means only the initial tick and wakes can poll.
	s := NewSyncer(NewCursor(api, NewMemoryStorage(), "alice"), nil, nil, nil,
		WithSyncLogger(discardLogger()),
		WithPollInterval(time.Hour),
	)
	s.SetOnline(false)
	assert.False(t, s.Online())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, polls.Load(), "offline syncer must not poll")

	s.SetOnline(true)
	require.Eventually(t, func() bool { return polls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Already online: no extra wake.
	s.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), polls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestSyncer_RunTicksOnInterval(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	api := &fakeAPI{newFn: func(time.Time) ([]v1.MessageDTO, error) {
		polls.Add(1)
		return nil, nil
	}}
	s := NewSyncer(NewCursor(api, NewMemoryStorage(), "alice"), nil, nil, nil,
		WithSyncLogger(discardLogger()),
		WithPollInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return polls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSyncer_WatchConnectivity(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	check := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errNetwork
	}

	s := NewSyncer(NewCursor(&fakeAPI{}, NewMemoryStorage(), "alice"), nil, nil, nil, WithSyncLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.WatchConnectivity(ctx, check, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return !s.Online() }, time.Second, 5*time.Millisecond)
	healthy.Store(true)
	require.Eventually(t, s.Online, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSyncer_CorruptOutboxStillPolls(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	require.NoError(t, store.Put(PendingKey("bob"), []byte("{not json")))

	var delivered int
	api := &fakeAPI{newFn: func(time.Time) ([]v1.MessageDTO, error) {
		return []v1.MessageDTO{msgAt("m1", "alice", "bob", time.Now())}, nil
	}}
	outbox := NewOutbox(store, "bob", WithOutboxLogger(discardLogger()))
	s := NewSyncer(NewCursor(api, store, "bob"), outbox, api,
		func(_ context.Context, batch []v1.MessageDTO) error {
			delivered += len(batch)
			return nil
		},
		WithSyncLogger(discardLogger()))

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"poll"}, api.callLog())
	assert.Equal(t, 1, delivered)
}

type failingSender struct{ err error }

func (f failingSender) Send(context.Context, v1.SendMessageRequest) (v1.MessageDTO, error) {
	return v1.MessageDTO{}, f.err
}

func TestSyncer_DrainFailureStillPolls(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	api := &fakeAPI{}
	outbox := NewOutbox(store, "alice", WithOutboxLogger(discardLogger()))
	require.NoError(t, outbox.Enqueue(pending("c1")))

	// A plain error is neither transient nor a rejection.
	s := NewSyncer(NewCursor(api, store, "alice"), outbox, failingSender{err: errors.New("encode failed")}, nil,
		WithSyncLogger(discardLogger()))

	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, []string{"poll"}, api.callLog())
}
