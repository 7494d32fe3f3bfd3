package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bencheth/internal/models"
	"bencheth/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ErrCacheDisabled is returned when status operations are attempted but Redis is disabled
var ErrCacheDisabled = errors.New("cache disabled")

const (
	keyPrefix   = "bencheth"
	defaultTTL  = 5 * time.Minute
	pushTimeout = 2 * time.Second
)

// HeadKey is the hash holding the last processed block for one endpoint and region.
func HeadKey(rpcHost, geo string) string {
	return fmt.Sprintf("%s:%s:%s:head", keyPrefix, rpcHost, geo)
}

// HeadStatus writes the last processed block summary to Redis so dashboards can
// compare endpoints. It is write-only; the poller never reads it back.
type HeadStatus struct {
	client  redis.Cmdable
	closer  func() error
	key     string
	ttl     time.Duration
	logger  *logger.Logger
	enabled bool
}

// NewHeadStatus connects to Redis. When disabled it returns a no-op sink.
func NewHeadStatus(uri string, enabled bool, rpcHost, geo string, ttl time.Duration, log *logger.Logger) (*HeadStatus, error) {
	if !enabled {
		log.Info("Redis head status disabled")
		return &HeadStatus{logger: log}, nil
	}

	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URI: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Redis head status connected, key %s", HeadKey(rpcHost, geo))

	return newHeadStatus(client, client.Close, HeadKey(rpcHost, geo), ttl, log), nil
}

func newHeadStatus(client redis.Cmdable, closer func() error, key string, ttl time.Duration, log *logger.Logger) *HeadStatus {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &HeadStatus{
		client:  client,
		closer:  closer,
		key:     key,
		ttl:     ttl,
		logger:  log,
		enabled: true,
	}
}

// Enabled reports whether writes reach Redis.
func (h *HeadStatus) Enabled() bool {
	return h != nil && h.enabled
}

// PublishBlock records summary as the current head. Failures are logged, never returned,
// so a Redis outage cannot stall polling.
func (h *HeadStatus) PublishBlock(ctx context.Context, summary *models.BlockSummary) {
	if !h.Enabled() || summary == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	if err := h.SetHead(ctx, summary); err != nil {
		h.logger.Warn("Failed to write head status for block %d: %v", summary.Number, err)
	}
}

// SetHead writes all summary fields and refreshes the TTL in one round trip.
func (h *HeadStatus) SetHead(ctx context.Context, summary *models.BlockSummary) error {
	if !h.Enabled() {
		return ErrCacheDisabled
	}

	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, h.key, headFields(summary))
		pipe.Expire(ctx, h.key, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set head in Redis: %w", err)
	}
	return nil
}

func headFields(s *models.BlockSummary) map[string]interface{} {
	return map[string]interface{}{
		"number":       strconv.FormatUint(s.Number, 10),
		"hash":         s.Hash,
		"timestamp":    s.Timestamp.UTC().Format(time.RFC3339),
		"tx_count":     s.TxCount,
		"tx_failed":    s.TxFailed,
		"lag_seconds":  strconv.FormatFloat(s.LagSeconds, 'f', 3, 64),
		"processed_at": s.ProcessedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Close closes the Redis connection gracefully
func (h *HeadStatus) Close() error {
	if !h.Enabled() || h.closer == nil {
		return nil
	}
	return h.closer()
}
