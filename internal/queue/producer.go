package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/models"
)

// Producer publishes constrain jobs to the Redis stream
type Producer struct {
	client     *redis.Client
	metrics    *metrics.QueueMetrics
	streamName string
	maxLen     int64
}

// NewProducer creates a new queue producer. A positive maxLen caps the
// stream length approximately; acknowledged entries are trimmed first.
func NewProducer(client *redis.Client, streamName string, maxLen int64) *Producer {
	return &Producer{
		client:     client,
		streamName: streamName,
		maxLen:     maxLen,
	}
}

// SetMetrics injects metrics collectors into the producer
func (p *Producer) SetMetrics(m *metrics.QueueMetrics) {
	p.metrics = m
}

// Enqueue adds a job to the queue
func (p *Producer) Enqueue(ctx context.Context, msg *models.JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.streamName,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	if p.metrics != nil {
		p.metrics.MessagesProduced.Inc()
	}
	return nil
}

// GetStreamLength returns the current length of the stream
func (p *Producer) GetStreamLength(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.streamName).Result()
}

// GetStats returns queue statistics and refreshes the depth gauge
func (p *Producer) GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error) {
	stats := &models.QueueStats{}

	length, err := p.client.XLen(ctx, p.streamName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream length: %w", err)
	}
	stats.StreamLength = length

	// The group is created lazily by the first worker.
	if pending, err := p.client.XPending(ctx, p.streamName, consumerGroup).Result(); err == nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	if p.metrics != nil {
		p.metrics.Depth.Set(float64(stats.StreamLength))
	}
	return stats, nil
}
