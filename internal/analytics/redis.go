// Package analytics keeps windowed counters of evaluated trigger events in Redis.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/texasrangers4/act-triggers/internal/domain"
	xlog "github.com/texasrangers4/act-triggers/internal/log"
)

// writeTimeout bounds a single Record so a slow Redis never holds a worker slot.
const writeTimeout = 2 * time.Second

type RedisSink struct {
	client redis.Cmdable
	config domain.AnalyticsConfig
	logger zerolog.Logger
}

func NewRedisSink(client redis.Cmdable, config domain.AnalyticsConfig) *RedisSink {
	return &RedisSink{
		client: client,
		config: config,
		logger: xlog.WithComponent("analytics"),
	}
}

func (s *RedisSink) WithLogger(logger zerolog.Logger) *RedisSink {
	s.logger = logger
	return s
}

// Record counts event under its bucket. Errors are logged and dropped;
// analytics never affects evaluation.
func (s *RedisSink) Record(ctx context.Context, event domain.TriggerEvent, outcome domain.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := s.Write(ctx, event, outcome); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_id", event.ID.String()).
			Msg("analytics write failed")
	}
}

func (s *RedisSink) Write(ctx context.Context, event domain.TriggerEvent, outcome domain.Outcome) error {
	if !s.config.Enabled {
		return nil
	}

	key := buildKey(event.Organization.String(), event.Service, event.Event, outcome, event.Time(), s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Count returns the counter for the bucket containing at. A missing key is 0.
func (s *RedisSink) Count(ctx context.Context, organization, service, event string, outcome domain.Outcome, at time.Time) (int64, error) {
	key := buildKey(organization, service, event, outcome, at, s.config.Window)
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

func buildKey(organization, service, event string, outcome domain.Outcome, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("o:%s:s:%s:e:%s:%s:%s", organization, service, event, outcome, bucket)
}

// truncateToBucket names the window containing t. Windows under a minute
// fall back to minute buckets.
func truncateToBucket(t time.Time, window time.Duration) string {
	if window < time.Minute {
		window = time.Minute
	}
	return t.UTC().Truncate(window).Format("200601021504")
}
