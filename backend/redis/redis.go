package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/core"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

const (
	fieldRecord    = "record"
	fieldFlowID    = "flow_id"
	fieldCreatedAt = "created_at"
)

var _ backend.Store = (*redisStore)(nil)

func NewRedisStore(client redis.UniversalClient, opts ...RedisBackendOption) (*redisStore, error) {
	options := &RedisOptions{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &redisStore{
		rdb:       client,
		keyPrefix: options.KeyPrefix,
		options:   options,
	}, nil
}

type redisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	options   *RedisOptions
}

func (rb *redisStore) GetCheckpoint(ctx context.Context, flowID string) (*core.CheckpointState, error) {
	data, err := rb.rdb.Get(ctx, checkpointKey(rb.keyPrefix, flowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}

	cp := &core.CheckpointState{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}

	return cp, nil
}

func (rb *redisStore) Commit(ctx context.Context, c *backend.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var state []byte
	if c.State != nil {
		var err error
		state, err = json.Marshal(c.State)
		if err != nil {
			return fmt.Errorf("marshaling checkpoint: %w", err)
		}
	}

	records := make([][]byte, 0, len(c.Records))
	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}

		records = append(records, data)
	}

	var deadLetter []byte
	if c.DeadLetter != nil {
		var err error
		deadLetter, err = json.Marshal(c.DeadLetter)
		if err != nil {
			return fmt.Errorf("marshaling dead letter: %w", err)
		}
	}

	now := rb.options.Clock.Now().UnixNano()

	_, err := rb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if state != nil {
			p.Set(ctx, checkpointKey(rb.keyPrefix, c.FlowID), state, 0)
			p.SAdd(ctx, checkpointsKey(rb.keyPrefix), c.FlowID)
		} else {
			p.Del(ctx, checkpointKey(rb.keyPrefix, c.FlowID))
			p.SRem(ctx, checkpointsKey(rb.keyPrefix), c.FlowID)
		}

		for _, r := range records {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: outboxKey(rb.keyPrefix),
				ID:     "*",
				Values: map[string]interface{}{
					fieldRecord:    string(r),
					fieldFlowID:    c.FlowID,
					fieldCreatedAt: now,
				},
			})
		}

		if deadLetter != nil {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: deadLettersKey(rb.keyPrefix),
				ID:     "*",
				Values: map[string]interface{}{
					fieldRecord:    string(deadLetter),
					fieldFlowID:    c.FlowID,
					fieldCreatedAt: now,
				},
			})
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("committing flow %v: %w", c.FlowID, err)
	}

	return nil
}

func (rb *redisStore) GetOutbox(ctx context.Context, limit int) ([]*backend.OutboxEntry, error) {
	msgs, err := rb.rdb.XRangeN(ctx, outboxKey(rb.keyPrefix), "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading outbox: %w", err)
	}

	entries := make([]*backend.OutboxEntry, 0, len(msgs))
	for _, msg := range msgs {
		r, createdAt, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}

		flowID, _ := msg.Values[fieldFlowID].(string)

		entries = append(entries, &backend.OutboxEntry{ID: msg.ID, FlowID: flowID, Record: r, CreatedAt: createdAt})
	}

	return entries, nil
}

func (rb *redisStore) AckOutbox(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := rb.rdb.XDel(ctx, outboxKey(rb.keyPrefix), ids...).Err(); err != nil {
		return fmt.Errorf("acknowledging outbox entries: %w", err)
	}

	return nil
}

func (rb *redisStore) GetDeadLetters(ctx context.Context) ([]*backend.DeadLetter, error) {
	msgs, err := rb.rdb.XRange(ctx, deadLettersKey(rb.keyPrefix), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}

	dls := make([]*backend.DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		r, createdAt, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}

		dls = append(dls, &backend.DeadLetter{ID: msg.ID, Record: r, CreatedAt: createdAt})
	}

	return dls, nil
}

func (rb *redisStore) GetStats(ctx context.Context) (*backend.Stats, error) {
	var checkpoints, outbox, deadLetters *redis.IntCmd

	_, err := rb.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		checkpoints = p.SCard(ctx, checkpointsKey(rb.keyPrefix))
		outbox = p.XLen(ctx, outboxKey(rb.keyPrefix))
		deadLetters = p.XLen(ctx, deadLettersKey(rb.keyPrefix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	return &backend.Stats{
		Checkpoints:   checkpoints.Val(),
		PendingOutbox: outbox.Val(),
		DeadLetters:   deadLetters.Val(),
	}, nil
}

func (rb *redisStore) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisStore) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "redis"})
}

func (rb *redisStore) Options() *backend.Options {
	return &rb.options.Options
}

func (rb *redisStore) Close() error {
	return rb.rdb.Close()
}

func decodeMessage(msg redis.XMessage) (*core.Record, time.Time, error) {
	data, ok := msg.Values[fieldRecord].(string)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("stream entry %v has no record", msg.ID)
	}

	r := &core.Record{}
	if err := json.Unmarshal([]byte(data), r); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshaling record: %w", err)
	}

	var createdAt time.Time
	if v, ok := msg.Values[fieldCreatedAt].(string); ok {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parsing created_at of %v: %w", msg.ID, err)
		}
		createdAt = time.Unix(0, nanos).UTC()
	}

	return r, createdAt, nil
}
