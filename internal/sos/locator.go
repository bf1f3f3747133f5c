package sos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLocateTimeout is returned when no acceptable fix arrives in time.
var ErrLocateTimeout = errors.New("sos: location request timed out")

// Fix is a device position report. HighAccuracy marks satellite fixes;
// network derived positions leave it false.
type Fix struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Accuracy     float64   `json:"accuracy"`
	HighAccuracy bool      `json:"highAccuracy"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// LocateOptions bounds a single acquisition attempt.
type LocateOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaxAge accepts cached fixes up to this old. Fixes recorded at or
	// after Since are always acceptable; Since defaults to the call start.
	MaxAge time.Duration
	Since  time.Time
}

func (o LocateOptions) accepts(f Fix, now time.Time) bool {
	if o.HighAccuracy && !f.HighAccuracy {
		return false
	}
	cutoff := now
	if o.MaxAge > 0 {
		cutoff = now.Add(-o.MaxAge)
	}
	if !o.Since.IsZero() && o.Since.Before(cutoff) {
		cutoff = o.Since
	}
	return !f.RecordedAt.Before(cutoff)
}

// Locator acquires the position of a user's device.
type Locator interface {
	// Report records a fix pushed by the device.
	Report(ctx context.Context, userID string, fix Fix) error
	// Locate returns an acceptable fix or fails once opts.Timeout elapses.
	Locate(ctx context.Context, userID string, opts LocateOptions) (Fix, error)
}

// RedisLocator keeps the latest fix per user in redis and announces new fixes
// on a per-user channel, so a waiting Locate on any node sees them.
type RedisLocator struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewRedisLocator(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLocator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocator{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "locator").Logger(),
	}
}

func fixKey(userID string) string     { return "sos:fix:" + userID }
func fixChannel(userID string) string { return "sos:fixes:" + userID }

func (l *RedisLocator) Report(ctx context.Context, userID string, fix Fix) error {
	if fix.RecordedAt.IsZero() {
		fix.RecordedAt = l.now()
	}
	data, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("sos: encode fix: %w", err)
	}
	if err := l.client.Set(ctx, fixKey(userID), data, l.ttl).Err(); err != nil {
		return fmt.Errorf("sos: store fix: %w", err)
	}
	if err := l.client.Publish(ctx, fixChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("sos: announce fix: %w", err)
	}
	return nil
}

// Latest returns the most recent stored fix.
func (l *RedisLocator) Latest(ctx context.Context, userID string) (Fix, bool, error) {
	data, err := l.client.Get(ctx, fixKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Fix{}, false, nil
	}
	if err != nil {
		return Fix{}, false, fmt.Errorf("sos: load fix: %w", err)
	}
	var fix Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return Fix{}, false, fmt.Errorf("sos: decode fix: %w", err)
	}
	return fix, true, nil
}

// Locate subscribes before reading the cache so a fix reported in between
// is not lost.
func (l *RedisLocator) Locate(ctx context.Context, userID string, opts LocateOptions) (Fix, error) {
	if opts.Since.IsZero() {
		opts.Since = l.now()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ps := l.client.Subscribe(ctx, fixChannel(userID))
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return Fix{}, l.waitErr(ctx, err)
	}

	if fix, ok, err := l.Latest(ctx, userID); err != nil {
		return Fix{}, l.waitErr(ctx, err)
	} else if ok && opts.accepts(fix, l.now()) {
		return fix, nil
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return Fix{}, l.waitErr(ctx, ctx.Err())
		case msg, ok := <-msgs:
			if !ok {
				return Fix{}, errors.New("sos: fix subscription closed")
			}
			var fix Fix
			if err := json.Unmarshal([]byte(msg.Payload), &fix); err != nil {
				l.logger.Warn().Err(err).Str("user_id", userID).Msg("dropping undecodable fix")
				continue
			}
			if opts.accepts(fix, l.now()) {
				return fix, nil
			}
		}
	}
}

func (l *RedisLocator) waitErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrLocateTimeout
	}
	return err
}
