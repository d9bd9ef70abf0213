package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(id string) PendingEntry {
	return PendingEntry{ClientMessageID: id, SenderID: "alice", RecipientID: "bob", Content: "text " + id}
}

func TestOutbox_DrainsInOrder(t *testing.T) {
	t.Parallel()

	var confirmed []string
	o := NewOutbox(NewMemoryStorage(), "alice", WithOnSent(func(e PendingEntry, m v1.MessageDTO) {
		confirmed = append(confirmed, e.ClientMessageID+"="+m.ID)
	}))
	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, o.Enqueue(pending(id)))
	}

	api := &fakeAPI{}
	res, err := o.Drain(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Sent: 3}, res)
	assert.Equal(t, []string{"send:c1", "send:c2", "send:c3"}, api.callLog())
	assert.Equal(t, []string{"c1=srv-c1", "c2=srv-c2", "c3=srv-c3"}, confirmed)

	n, err := o.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutbox_StopsOnTransientFailure(t *testing.T) {
	t.Parallel()

	o := NewOutbox(NewMemoryStorage(), "alice", WithOutboxLogger(discardLogger()))
	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, o.Enqueue(pending(id)))
	}

	api := &fakeAPI{sendFn: func(req v1.SendMessageRequest) (v1.MessageDTO, error) {
		if req.ClientMessageID == "c2" {
			return v1.MessageDTO{}, errUnavailable
		}
		return v1.MessageDTO{ID: "srv-" + req.ClientMessageID}, nil
	}}

	res, err := o.Drain(context.Background(), api)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, []string{"send:c1", "send:c2"}, api.callLog())

	left, err := o.Entries()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c2", left[0].ClientMessageID)
	assert.Equal(t, 1, left[0].Attempts)
	assert.Contains(t, left[0].LastError, "down")
	assert.Equal(t, "c3", left[1].ClientMessageID)

	// Next pass resumes at c2 with the same client message id.
	api.sendFn = nil
	res, err = o.Drain(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, "c2", api.sends[2].ClientMessageID)
	assert.Equal(t, "text c2", api.sends[2].Content)
}

func TestOutbox_DropsRejectedEntries(t *testing.T) {
	t.Parallel()

	var rejected []string
	o := NewOutbox(NewMemoryStorage(), "alice",
		WithOutboxLogger(discardLogger()),
		WithOnRejected(func(e PendingEntry, err error) {
			assert.True(t, IsRejected(err))
			rejected = append(rejected, e.ClientMessageID)
		}),
	)
	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, o.Enqueue(pending(id)))
	}

	api := &fakeAPI{sendFn: func(req v1.SendMessageRequest) (v1.MessageDTO, error) {
		if req.ClientMessageID == "c2" {
			return v1.MessageDTO{}, errEmpty
		}
		return v1.MessageDTO{ID: "srv-" + req.ClientMessageID}, nil
	}}

	res, err := o.Drain(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Sent: 2, Rejected: 1}, res)
	assert.Equal(t, []string{"c2"}, rejected)
}

func TestOutbox_EnqueueDedupesAndKeepsOrder(t *testing.T) {
	t.Parallel()

	o := NewOutbox(NewMemoryStorage(), "alice")
	require.NoError(t, o.Enqueue(pending("c1")))
	require.NoError(t, o.Enqueue(pending("c2")))
	require.NoError(t, o.Enqueue(pending("c1")))
	require.Error(t, o.Enqueue(PendingEntry{}))

	entries, err := o.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c1", entries[0].ClientMessageID)
	assert.Equal(t, "c2", entries[1].ClientMessageID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestOutbox_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client.db")
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	s, err := OpenBoltStorage(path)
	require.NoError(t, err)
	e := pending("c1")
	e.CreatedAt = created
	require.NoError(t, NewOutbox(s, "alice").Enqueue(e))
	require.NoError(t, s.Close())

	s, err = OpenBoltStorage(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := NewOutbox(s, "alice").Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1", entries[0].ClientMessageID)
	assert.True(t, entries[0].CreatedAt.Equal(created))

	// Queues are per user.
	other, err := NewOutbox(s, "bob").Entries()
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestOutbox_CorruptValueIsSetAside(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage()
	require.NoError(t, store.Put(PendingKey("alice"), []byte("{not json")))
	o := NewOutbox(store, "alice", WithOutboxLogger(discardLogger()))

	entries, err := o.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	raw, err := store.Get(CorruptPendingKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))

	// The queue is usable again.
	require.NoError(t, o.Enqueue(pending("c1")))
	n, err := o.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
