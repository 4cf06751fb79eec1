package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/models"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

// getTestRedisClient skips the test when Redis is not reachable
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testStream(t *testing.T, client *redis.Client, prefix string) string {
	t.Helper()
	name := prefix + "-" + uuid.New().String()[:8]
	t.Cleanup(func() { client.Del(context.Background(), name) })
	return name
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	consumer := NewConsumer(client, ConsumerConfig{
		StreamName:    "constrain-jobs",
		ConsumerGroup: "workers",
		ConsumerName:  "worker-1",
		PollTimeout:   5 * time.Second,
		ClaimIdle:     time.Minute,
	}, discardLogger())

	if consumer.streamName != "constrain-jobs" || consumer.consumerGroup != "workers" {
		t.Errorf("unexpected stream/group %q/%q", consumer.streamName, consumer.consumerGroup)
	}
	if consumer.claimIdle != time.Minute {
		t.Errorf("claimIdle = %v, want 1m", consumer.claimIdle)
	}
}

func TestParseMessage(t *testing.T) {
	c := &Consumer{}

	msg, err := c.parseMessage(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"data": "{not json"}})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("parseMessage() error = %v, want ErrMalformedMessage", err)
	}
	if msg == nil || msg.ID != "1-0" {
		t.Errorf("malformed message should keep its ID for acknowledgement, got %+v", msg)
	}

	_, err = c.parseMessage(redis.XMessage{ID: "2-0", Values: map[string]interface{}{}})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("parseMessage() error = %v, want ErrMalformedMessage", err)
	}

	id := uuid.New()
	msg, err = c.parseMessage(redis.XMessage{ID: "3-0", Values: map[string]interface{}{
		"data": `{"job_id":"` + id.String() + `","params":{"constraint_mode":"prioritize_max_strict","min_res":64,"max_res":512,"multiple_of":16}}`,
	}})
	if err != nil {
		t.Fatalf("parseMessage() error = %v", err)
	}
	if msg.Job.JobID != id || msg.Job.Params.Mode != resolution.PrioritizeMaxStrict || msg.Job.Params.MultipleOf != 16 {
		t.Errorf("parseMessage() job = %+v", msg.Job)
	}
}

func TestProducer_EnqueueAndStats(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-stats")

	reg := prometheus.NewRegistry()
	qm := metrics.NewQueueMetrics(reg, "test")
	producer := NewProducer(client, stream, 0)
	producer.SetMetrics(qm)

	for i := 0; i < 3; i++ {
		if err := producer.Enqueue(context.Background(), &models.JobMessage{JobID: uuid.New()}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	stats, err := producer.GetStats(context.Background(), "missing-group")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.StreamLength != 3 || stats.PendingMessages != 0 {
		t.Errorf("GetStats() = %+v, want length 3 and nothing pending", stats)
	}
	if got := testutil.ToFloat64(qm.MessagesProduced); got != 3 {
		t.Errorf("messages produced = %v, want 3", got)
	}
	if got := testutil.ToFloat64(qm.Depth); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}
}

func TestConsumer_Consume_NoMessages(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-empty")

	consumer := NewConsumer(client, ConsumerConfig{
		StreamName:    stream,
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
		PollTimeout:   100 * time.Millisecond,
	}, discardLogger())
	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	// Idempotent.
	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("second EnsureGroup() error = %v", err)
	}

	msg, err := consumer.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if msg != nil {
		t.Errorf("Consume() = %+v, want nil", msg)
	}
}

func TestProducerConsumer_Integration(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-integration")

	producer := NewProducer(client, stream, 1000)
	consumer := NewConsumer(client, ConsumerConfig{
		StreamName:    stream,
		ConsumerGroup: "test-group",
		ConsumerName:  "test-consumer",
		PollTimeout:   time.Second,
	}, discardLogger())
	if err := consumer.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	params := constrain.DefaultParams()
	sent := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		id := uuid.New()
		sent[id] = true
		params.MultipleOf = 8 * (i + 1)
		if err := producer.Enqueue(context.Background(), &models.JobMessage{JobID: id, Params: params}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		msg, err := consumer.Consume(context.Background())
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if msg == nil {
			t.Fatalf("expected message %d, got nil", i)
		}
		if !sent[msg.Job.JobID] {
			t.Errorf("unexpected job %v", msg.Job.JobID)
		}
		delete(sent, msg.Job.JobID)

		if err := consumer.Acknowledge(context.Background(), msg.ID); err != nil {
			t.Fatalf("Acknowledge() error = %v", err)
		}
	}
	if len(sent) != 0 {
		t.Errorf("jobs never received: %v", sent)
	}

	pending, err := consumer.GetPendingCount(context.Background())
	if err != nil {
		t.Fatalf("GetPendingCount() error = %v", err)
	}
	if pending != 0 {
		t.Errorf("PendingCount = %d, want 0", pending)
	}
}

func TestConsumer_ClaimsStaleMessages(t *testing.T) {
	client := getTestRedisClient(t)
	stream := testStream(t, client, "test-claim")

	cfg := ConsumerConfig{
		StreamName:    stream,
		ConsumerGroup: "test-group",
		ConsumerName:  "crashed",
		PollTimeout:   100 * time.Millisecond,
	}
	crashed := NewConsumer(client, cfg, discardLogger())
	if err := crashed.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	id := uuid.New()
	if err := NewProducer(client, stream, 0).Enqueue(context.Background(), &models.JobMessage{JobID: id}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if msg, err := crashed.Consume(context.Background()); err != nil || msg == nil {
		t.Fatalf("Consume() = %v, %v", msg, err)
	}

	cfg.ConsumerName = "rescuer"
	cfg.ClaimIdle = 10 * time.Millisecond
	rescuer := NewConsumer(client, cfg, discardLogger())
	time.Sleep(50 * time.Millisecond)

	msg, err := rescuer.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if msg == nil || msg.Job.JobID != id {
		t.Fatalf("Consume() = %+v, want claimed job %v", msg, id)
	}
	if err := rescuer.Reject(context.Background(), msg.ID); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
}
