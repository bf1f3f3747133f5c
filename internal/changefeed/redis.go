package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisFeed carries change events over redis pub/sub, one channel per
// collection. Redis delivers messages on a channel in publish order.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisFeed builds a feed on client. Channels are named prefix+collection.
func NewRedisFeed(client *redis.Client, prefix string, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "changefeed").Logger(),
	}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + collection
}

// Publish sends evt to the collection channel.
func (f *RedisFeed) Publish(ctx context.Context, evt ChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("changefeed: encode event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(evt.Collection), data).Err(); err != nil {
		return fmt.Errorf("changefeed: publish %s: %w", evt.Collection, err)
	}
	return nil
}

// Subscribe waits for the redis subscription to be confirmed before
// returning, so no event published afterwards is missed.
func (f *RedisFeed) Subscribe(ctx context.Context, collection string, pred Predicate) (Subscription, error) {
	if pred == nil {
		pred = All
	}
	ps := f.client.Subscribe(ctx, f.channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("changefeed: subscribe %s: %w", collection, err)
	}

	sub := &redisSub{
		ps:   ps,
		out:  make(chan ChangeEvent),
		done: make(chan struct{}),
	}
	go sub.run(pred, f.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan ChangeEvent
	done chan struct{}
	once sync.Once
	err  error
}

func (s *redisSub) Events() <-chan ChangeEvent { return s.out }

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}

func (s *redisSub) run(pred Predicate, logger zerolog.Logger) {
	defer close(s.out)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var evt ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable change event")
				continue
			}
			if !pred(evt) {
				continue
			}
			select {
			case s.out <- evt:
			case <-s.done:
				return
			}
		}
	}
}
