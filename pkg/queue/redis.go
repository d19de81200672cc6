package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dandiarchive/dandipub/dpapi"
)

// StatusTTL is how long task outcomes are kept.
const StatusTTL = 7 * 24 * time.Hour

// Redis keeps the queue in two redis lists, `{name}:pending` and
// `{name}:processing`. New tasks are pushed on the left and reserved from
// the right, so the pending list is FIFO.
type Redis struct {
	client *redis.Client
	name   string
}

var _ Queue = (*Redis)(nil)

// NewRedis connects to the redis at url and checks it answers.
//
// Errors:
//
//   - dandi-error-config -- when url does not parse
//   - dandi-error-queue -- when redis cannot be reached
func NewRedis(ctx context.Context, url, name string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, dpapi.ErrorConfig("queue.redis_url", err.Error())
	}
	q := &Redis{client: redis.NewClient(opts), name: name}
	if err := q.Ping(ctx); err != nil {
		q.client.Close()
		return nil, err
	}
	return q, nil
}

func (q *Redis) pendingKey() string    { return q.name + ":pending" }
func (q *Redis) processingKey() string { return q.name + ":processing" }
func (q *Redis) statusKey(id uuid.UUID) string {
	return q.name + ":status:" + id.String()
}

func (q *Redis) Enqueue(ctx context.Context, task Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		return dpapi.ErrorQueue("enqueue", err)
	}
	return nil
}

func (q *Redis) Reserve(ctx context.Context, wait time.Duration) (Reservation, bool, error) {
	raw, err := q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, dpapi.ErrorQueue("reserve", err)
	}
	task, err := decodeTask(raw)
	if err != nil {
		// drop the payload so it cannot wedge the worker on every restart
		q.client.LRem(ctx, q.processingKey(), 1, raw)
		return Reservation{}, false, err
	}
	return Reservation{Task: task, raw: raw}, true, nil
}

func (q *Redis) Ack(ctx context.Context, r Reservation) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, r.raw).Err(); err != nil {
		return dpapi.ErrorQueue("ack", err)
	}
	return nil
}

// Recover moves unacked tasks back to the consuming end of pending.
// Reserve pushes on the left of processing, so taking from the left puts the
// oldest reservation nearest the right, where Reserve takes from next.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.pendingKey(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, dpapi.ErrorQueue("recover", err)
		}
		n++
	}
}

func (q *Redis) SetStatus(ctx context.Context, s Status) error {
	b, err := json.Marshal(s)
	if err != nil {
		return dpapi.ErrorSerialization("encoding task status", err)
	}
	if err := q.client.Set(ctx, q.statusKey(s.TaskID), b, StatusTTL).Err(); err != nil {
		return dpapi.ErrorQueue("set status", err)
	}
	return nil
}

func (q *Redis) Status(ctx context.Context, id uuid.UUID) (Status, bool, error) {
	b, err := q.client.Get(ctx, q.statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, dpapi.ErrorQueue("get status", err)
	}
	var s Status
	if err := json.Unmarshal(b, &s); err != nil {
		return Status{}, false, dpapi.ErrorQueue("decoding task status", err)
	}
	return s, true, nil
}

// Len returns the lengths of the pending and processing lists.
func (q *Redis) Len(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, 0, dpapi.ErrorQueue("llen", err)
	}
	processing, err = q.client.LLen(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, 0, dpapi.ErrorQueue("llen", err)
	}
	return pending, processing, nil
}

func (q *Redis) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return dpapi.ErrorQueue("ping", err)
	}
	return nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}
