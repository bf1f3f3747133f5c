package changefeed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to or subscribing on a closed feed.
var ErrClosed = errors.New("changefeed: closed")

// MemoryFeed is an in-process Feed. Each subscription owns an unbounded
// queue so a slow dashboard never blocks a store write.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[*memorySub]struct{})}
}

// Publish fans evt out to matching subscribers of its collection.
func (f *MemoryFeed) Publish(_ context.Context, evt ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	for sub := range f.subs[evt.Collection] {
		if sub.pred(evt) {
			sub.enqueue(evt)
		}
	}
	return nil
}

// Subscribe registers a subscriber for collection.
func (f *MemoryFeed) Subscribe(ctx context.Context, collection string, pred Predicate) (Subscription, error) {
	if pred == nil {
		pred = All
	}
	sub := &memorySub{
		feed:       f,
		collection: collection,
		pred:       pred,
		wake:       make(chan struct{}, 1),
		out:        make(chan ChangeEvent),
		done:       make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[*memorySub]struct{})
	}
	f.subs[collection][sub] = struct{}{}
	f.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close ends every subscription.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	var subs []*memorySub
	for _, set := range f.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// Subscribers reports the live subscriber count for collection.
func (f *MemoryFeed) Subscribers(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[collection])
}

func (f *MemoryFeed) remove(sub *memorySub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.collection]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, sub.collection)
		}
	}
}

type memorySub struct {
	feed       *MemoryFeed
	collection string
	pred       Predicate

	mu    sync.Mutex
	queue []ChangeEvent
	wake  chan struct{}

	out  chan ChangeEvent
	done chan struct{}
	once sync.Once
}

func (s *memorySub) Events() <-chan ChangeEvent { return s.out }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.done)
	})
	return nil
}

func (s *memorySub) enqueue(evt ChangeEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = ChangeEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}
	}
}
