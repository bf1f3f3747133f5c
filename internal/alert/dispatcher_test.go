package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-coordination-server/internal/metrics"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []Alert
	err    error
	block  chan struct{}
	called chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, a Alert) error {
	if s.called != nil {
		s.called <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, DispatcherOptions{Workers: 2, QueueSize: 8}, metrics.NewRecorder(prometheus.NewRegistry()), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 5; i++ {
		assert.True(t, d.Enqueue(Alert{EventID: "e", To: "1", Body: "help"}))
	}
	assert.Eventually(t, func() bool { return sender.count() == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, d.Enqueue(Alert{EventID: "late"}))
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{}), called: make(chan struct{}, 8)}
	d := NewDispatcher(sender, DispatcherOptions{Workers: 1, QueueSize: 8}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.True(t, d.Enqueue(Alert{EventID: "e"}))
	}
	<-sender.called
	cancel()
	close(sender.block)

	require.NoError(t, <-done)
	assert.Equal(t, 3, sender.count())
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, DispatcherOptions{Workers: 1, QueueSize: 1}, nil, zerolog.Nop())

	assert.True(t, d.Enqueue(Alert{EventID: "1"}))
	assert.False(t, d.Enqueue(Alert{EventID: "2"}))
}

func TestDispatcherSwallowsDeliveryFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("provider down")}
	d := NewDispatcher(sender, DispatcherOptions{Workers: 1, QueueSize: 2}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.True(t, d.Enqueue(Alert{EventID: "e"}))
	assert.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
