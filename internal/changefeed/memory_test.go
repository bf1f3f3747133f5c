package changefeed

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

func mustEvent(t *testing.T, op Operation, r row) ChangeEvent {
	t.Helper()
	evt, err := NewEvent(Appointments, op, strconv.Itoa(r.ID), r)
	require.NoError(t, err)
	return evt
}

func receive(t *testing.T, sub Subscription) ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return ChangeEvent{}
}

func TestMemoryFeedDeliversInPublishOrder(t *testing.T) {
	feed := NewMemoryFeed()
	sub, err := feed.Subscribe(context.Background(), Appointments, All)
	require.NoError(t, err)
	defer sub.Close()

	statuses := []string{"pending", "forwarded", "rejected", "forwarded", "approved", "confirmed"}
	for _, s := range statuses {
		require.NoError(t, feed.Publish(context.Background(), mustEvent(t, OpUpdate, row{ID: 7, Status: s})))
	}

	for _, want := range statuses {
		var got row
		require.NoError(t, receive(t, sub).Decode(&got))
		assert.Equal(t, want, got.Status)
	}
}

func TestMemoryFeedAppliesPredicateAndCollection(t *testing.T) {
	feed := NewMemoryFeed()
	onlySeven := func(evt ChangeEvent) bool { return evt.Key == "7" }
	sub, err := feed.Subscribe(context.Background(), Appointments, onlySeven)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, feed.Publish(context.Background(), mustEvent(t, OpInsert, row{ID: 8})))
	other, err := NewEvent(EmergencyEvents, OpInsert, "7", row{ID: 7})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), other))
	require.NoError(t, feed.Publish(context.Background(), mustEvent(t, OpInsert, row{ID: 7})))

	evt := receive(t, sub)
	assert.Equal(t, Appointments, evt.Collection)
	assert.Equal(t, "7", evt.Key)
}

func TestMemoryFeedPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	feed := NewMemoryFeed()
	sub, err := feed.Subscribe(context.Background(), Appointments, All)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			_ = feed.Publish(context.Background(), mustEvent(t, OpUpdate, row{ID: i}))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an unread subscription")
	}
	assert.Equal(t, "0", receive(t, sub).Key)
}

func TestMemoryFeedUnsubscribesOnContextCancel(t *testing.T) {
	feed := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, Appointments, All)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Subscribers(Appointments))

	cancel()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.Eventually(t, func() bool { return feed.Subscribers(Appointments) == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryFeedClose(t *testing.T) {
	feed := NewMemoryFeed()
	sub, err := feed.Subscribe(context.Background(), Appointments, All)
	require.NoError(t, err)

	require.NoError(t, feed.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, feed.Publish(context.Background(), mustEvent(t, OpInsert, row{ID: 1})), ErrClosed)
	_, err = feed.Subscribe(context.Background(), Appointments, All)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, sub.Close())
}

func TestDecodeWithoutRow(t *testing.T) {
	evt, err := NewEvent(Appointments, OpDelete, "3", nil)
	require.NoError(t, err)
	var r row
	assert.Error(t, evt.Decode(&r))
}
