package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestView(api ConversationAPI, store Storage, opts ...ViewOption) (*ConversationView, *Outbox) {
	log := discardLogger()
	cache := NewConversationCache(store, "alice", 0, log)
	outbox := NewOutbox(store, "alice", WithOutboxLogger(log))
	n := 0
	opts = append([]ViewOption{
		WithViewLogger(log),
		WithViewClock(func() time.Time { return t0.Add(time.Hour) }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("c%d", n) }),
	}, opts...)
	return NewConversationView(api, Identity{ID: "alice", Username: "alice"}, cache, outbox, opts...), outbox
}

func entryIDs(entries []ViewEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestConversationView_OpenSeedsFromCacheThenSyncs(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	require.NoError(t, NewConversationCache(store, "alice", 0, nil).Save("bob", []v1.MessageDTO{
		msgAt("m1", "bob", "alice", t0),
	}))

	release := make(chan struct{})
	api := &fakeAPI{convFn: func(context.Context, string) ([]v1.MessageDTO, error) {
		<-release
		return []v1.MessageDTO{
			msgAt("m2", "alice", "bob", t0.Add(2*time.Second)),
			msgAt("m1", "bob", "alice", t0),
		}, nil
	}}
	v, _ := newTestView(api, store)
	assert.Equal(t, StateIdle, v.State())

	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background(), "bob") }()

	require.Eventually(t, func() bool { return v.State() == StateLoading }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, entryIDs(v.Messages()))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateSynced, v.State())
	assert.Equal(t, []string{"m1", "m2"}, entryIDs(v.Messages()))
	assert.Equal(t, "bob", v.Contact())

	cached := NewConversationCache(store, "alice", 0, nil).Load("bob")
	require.Len(t, cached, 2)
}

func TestConversationView_StaleFetchIsDiscarded(t *testing.T) {
	t.Parallel()

	slow := make(chan struct{})
	api := &fakeAPI{convFn: func(_ context.Context, other string) ([]v1.MessageDTO, error) {
		if other == "bob" {
			<-slow
			return []v1.MessageDTO{msgAt("from-bob", "bob", "alice", t0)}, nil
		}
		return []v1.MessageDTO{msgAt("from-carol", "carol", "alice", t0)}, nil
	}}
	v, _ := newTestView(api, NewMemoryStorage())

	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background(), "bob") }()
	require.Eventually(t, func() bool { return v.Contact() == "bob" }, time.Second, 5*time.Millisecond)

	require.NoError(t, v.Open(context.Background(), "carol"))
	close(slow)

	require.ErrorIs(t, <-done, ErrStaleFetch)
	assert.Equal(t, "carol", v.Contact())
	assert.Equal(t, []string{"from-carol"}, entryIDs(v.Messages()))
	assert.Equal(t, StateSynced, v.State())
}

func TestConversationView_MergeDedupsAndOrders(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{convFn: func(context.Context, string) ([]v1.MessageDTO, error) {
		return []v1.MessageDTO{
			msgAt("m1", "bob", "alice", t0),
			msgAt("m3", "bob", "alice", t0.Add(3*time.Second)),
		}, nil
	}}
	v, _ := newTestView(api, NewMemoryStorage())
	assert.Zero(t, v.Merge([]v1.MessageDTO{msgAt("x", "bob", "alice", t0)}), "idle view ignores batches")

	require.NoError(t, v.Open(context.Background(), "bob"))

	added := v.Merge([]v1.MessageDTO{
		msgAt("m3", "bob", "alice", t0.Add(3*time.Second)),
		msgAt("m2", "bob", "alice", t0.Add(2*time.Second)),
		msgAt("c-other", "carol", "alice", t0.Add(time.Second)),
		msgAt("m4", "bob", "alice", t0.Add(4*time.Second)),
	})
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, entryIDs(v.Messages()))

	assert.Zero(t, v.Merge([]v1.MessageDTO{msgAt("m2", "bob", "alice", t0.Add(2*time.Second))}))
}

func TestConversationView_SendConfirmed(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{sendFn: func(req v1.SendMessageRequest) (v1.MessageDTO, error) {
		return v1.MessageDTO{ID: "srv-1", SenderID: req.SenderID, RecipientID: req.RecipientID, Content: req.Content, SentAt: t0}, nil
	}}
	v, outbox := newTestView(api, NewMemoryStorage())
	require.NoError(t, v.Open(context.Background(), "bob"))

	entry, err := v.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, entry.Status)
	assert.Equal(t, "srv-1", entry.ID)
	assert.Equal(t, "c1", api.sends[0].ClientMessageID)

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusConfirmed, msgs[0].Status)
	assert.Equal(t, "srv-1", msgs[0].ID)

	n, err := outbox.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConversationView_SendQueuedThenConfirmed(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{sendFn: func(v1.SendMessageRequest) (v1.MessageDTO, error) { return v1.MessageDTO{}, errNetwork }}
	v, outbox := newTestView(api, NewMemoryStorage())
	require.NoError(t, v.Open(context.Background(), "bob"))

	entry, err := v.Send(context.Background(), "are you there?")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, entry.Status)
	assert.Equal(t, "c1", entry.ClientMessageID)

	queued, err := outbox.Entries()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "c1", queued[0].ClientMessageID)
	assert.Equal(t, 1, queued[0].Attempts)

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusQueued, msgs[0].Status)

	// Reopening overlays the still-queued entry on the server history.
	require.NoError(t, v.Open(context.Background(), "bob"))
	msgs = v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusQueued, msgs[0].Status)
	assert.Equal(t, "are you there?", msgs[0].Content)

	confirmed := msgAt("srv-9", "alice", "bob", t0.Add(time.Minute))
	v.Confirm("c1", confirmed)
	msgs = v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-9", msgs[0].ID)
	assert.Equal(t, StatusConfirmed, msgs[0].Status)

	// Confirming again after the poll already merged it changes nothing.
	v.Confirm("c1", confirmed)
	assert.Len(t, v.Messages(), 1)
}

func TestConversationView_SendRejected(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{sendFn: func(v1.SendMessageRequest) (v1.MessageDTO, error) { return v1.MessageDTO{}, errEmpty }}
	v, outbox := newTestView(api, NewMemoryStorage())

	_, err := v.Send(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoContact)

	require.NoError(t, v.Open(context.Background(), "bob"))
	entry, err := v.Send(context.Background(), " ")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, StatusFailed, entry.Status)

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusFailed, msgs[0].Status)

	n, err := outbox.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConversationCache_CorruptAndLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	cache := NewConversationCache(store, "alice", 3, discardLogger())

	require.NoError(t, store.Put(ConversationKey("alice", "bob"), []byte("not json")))
	got := cache.Load("bob")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	var msgs []v1.MessageDTO
	for i := 0; i < 5; i++ {
		msgs = append(msgs, msgAt(fmt.Sprintf("m%d", i), "bob", "alice", t0.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, cache.Save("bob", msgs))

	got = cache.Load("bob")
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m4", got[2].ID)

	assert.Equal(t, DefaultCacheLimit, NewConversationCache(store, "alice", 0, nil).limit)
}

func TestViewState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "synced", StateSynced.String())
	assert.Equal(t, "ViewState(7)", ViewState(7).String())
}

func TestConversationView_OpenKeepsEntriesArrivingDuringFetch(t *testing.T) {
	t.Parallel()

	fetching := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		convFn: func(context.Context, string) ([]v1.MessageDTO, error) {
			close(fetching)
			<-release
			return []v1.MessageDTO{msgAt("m1", "bob", "alice", t0)}, nil
		},
		sendFn: func(req v1.SendMessageRequest) (v1.MessageDTO, error) {
			return msgAt("srv-"+req.ClientMessageID, "alice", "bob", t0.Add(time.Minute)), nil
		},
	}
	v, _ := newTestView(api, NewMemoryStorage())

	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background(), "bob") }()
	<-fetching

	entry, err := v.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, entry.Status)
	assert.Equal(t, 1, v.Merge([]v1.MessageDTO{msgAt("m9", "bob", "alice", t0.Add(2*time.Minute))}))

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, StateSynced, v.State())
	assert.Equal(t, []string{"m1", "srv-c1", "m9"}, entryIDs(v.Messages()))
	for _, e := range v.Messages() {
		assert.Equal(t, StatusConfirmed, e.Status)
	}
}
