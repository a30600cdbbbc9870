package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"bimhub-api/pkg/memorydb"

	"github.com/rs/zerolog"
)

const statusChannelPrefix = "jobs:status:"
const statusKeyPrefix = "jobs:snapshot:"

// RedisPublisher pushes job snapshots to Redis: a pub/sub channel for
// subscribers and a TTL'd key for pollers that outlive this process's
// registry. Publish errors are logged, never propagated; the in-memory
// registry stays the source of truth.
type RedisPublisher struct {
	client *memorydb.RedisClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisPublisher(client *memorydb.RedisClient, ttl time.Duration, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "status-publisher").Logger(),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, snap *Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", snap.JobID).Msg("failed to marshal snapshot")
		return
	}
	if err := p.client.Set(ctx, statusKeyPrefix+snap.JobID, payload, p.ttl); err != nil {
		p.logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("failed to cache snapshot")
	}
	if err := p.client.Publish(ctx, statusChannelPrefix+snap.JobID, payload); err != nil {
		p.logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("failed to publish snapshot")
	}
}
