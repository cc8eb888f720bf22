package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tenderflow/docpipe/constants"
)

// RedisBackend stores jobs in redis: one hash per job, a ready zset ordered
// by (priority, enqueue sequence), a delayed zset keyed by visibility time
// and an active zset keyed by last heartbeat. Completed/failed ids live in
// capped lists for retention.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedisBackend(cfg RedisConfig) *RedisBackend {
	if cfg.Prefix == "" {
		cfg.Prefix = "docpipe"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBackend{rdb: rdb, prefix: cfg.Prefix}
}

func (b *RedisBackend) jobKey(id string) string         { return b.prefix + ":job:" + id }
func (b *RedisBackend) readyKey(queue string) string    { return b.prefix + ":" + queue + ":ready" }
func (b *RedisBackend) delayedKey(queue string) string  { return b.prefix + ":" + queue + ":delayed" }
func (b *RedisBackend) activeKey(queue string) string   { return b.prefix + ":" + queue + ":active" }
func (b *RedisBackend) stalledKey(queue string) string  { return b.prefix + ":" + queue + ":stalled" }
func (b *RedisBackend) finishedKey(queue, status string) string {
	return b.prefix + ":" + queue + ":" + status
}
func (b *RedisBackend) seqKey(queue string) string { return b.prefix + ":" + queue + ":seq" }

// readyScore orders the ready zset: higher priority first, then FIFO.
// Priorities are small ints; the sequence counter occupies the low digits.
func readyScore(priority int, seq int64) float64 {
	return float64(1000-priority)*1e12 + float64(seq)
}

func (b *RedisBackend) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	opts = opts.withDefaults()
	id := uuid.NewString()
	now := time.Now().UTC()
	seq, err := b.rdb.Incr(ctx, b.seqKey(queue)).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue seq: %w", err)
	}

	fields := map[string]any{
		"queue":        queue,
		"payload":      string(payload),
		"status":       string(constants.JobStatusWaiting),
		"attempts":     0,
		"max_attempts": opts.MaxAttempts,
		"priority":     opts.Priority,
		"stall_count":  0,
		"last_error":   "",
		"seq":          seq,
		"enqueued_at":  now.UnixMilli(),
		"visible_at":   now.Add(opts.Delay).UnixMilli(),
	}
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.jobKey(id), fields)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(now.Add(opts.Delay).UnixMilli()), Member: id})
	} else {
		pipe.ZAdd(ctx, b.readyKey(queue), redis.Z{Score: readyScore(opts.Priority, seq), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// promoteDue moves delayed jobs whose visibility time has passed into the
// ready zset. Called opportunistically from Dequeue.
func (b *RedisBackend) promoteDue(ctx context.Context, queue string) error {
	now := time.Now().UTC().UnixMilli()
	ids, err := b.rdb.ZRangeByScore(ctx, b.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now, 10), Count: 64,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	for _, id := range ids {
		vals, err := b.rdb.HMGet(ctx, b.jobKey(id), "priority", "seq").Result()
		if err != nil {
			return err
		}
		prio := hint(vals[0])
		seq := hint64(vals[1])
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, b.delayedKey(queue), id)
		pipe.ZAdd(ctx, b.readyKey(queue), redis.Z{Score: readyScore(prio, seq), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) Dequeue(ctx context.Context, queue string) (*Job, error) {
	if err := b.promoteDue(ctx, queue); err != nil {
		return nil, fmt.Errorf("promote delayed: %w", err)
	}
	zs, err := b.rdb.ZPopMin(ctx, b.readyKey(queue), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("pop ready: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	id, _ := zs[0].Member.(string)
	now := time.Now().UTC()

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.jobKey(id), "status", string(constants.JobStatusActive), "heartbeat_at", now.UnixMilli())
	pipe.HIncrBy(ctx, b.jobKey(id), "attempts", 1)
	pipe.SRem(ctx, b.stalledKey(queue), id)
	pipe.ZAdd(ctx, b.activeKey(queue), redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return b.Job(ctx, queue, id)
}

func (b *RedisBackend) Ack(ctx context.Context, queue, jobID string, result []byte) error {
	now := time.Now().UTC()
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.activeKey(queue), jobID)
	pipe.HSet(ctx, b.jobKey(jobID),
		"status", string(constants.JobStatusCompleted),
		"result", string(result),
		"finished_at", now.UnixMilli())
	pipe.LPush(ctx, b.finishedKey(queue, string(constants.JobStatusCompleted)), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

func (b *RedisBackend) Fail(ctx context.Context, queue, jobID, reason string, retryable bool) (bool, error) {
	job, err := b.Job(ctx, queue, jobID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if retryable && job.Attempts < job.MaxAttempts {
		visibleAt := now.Add(BackoffDelay(job.Attempts))
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, b.activeKey(queue), jobID)
		pipe.HSet(ctx, b.jobKey(jobID),
			"status", string(constants.JobStatusWaiting),
			"last_error", reason,
			"visible_at", visibleAt.UnixMilli())
		pipe.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(visibleAt.UnixMilli()), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("requeue: %w", err)
		}
		return true, nil
	}
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.activeKey(queue), jobID)
	pipe.HSet(ctx, b.jobKey(jobID),
		"status", string(constants.JobStatusFailed),
		"last_error", reason,
		"finished_at", now.UnixMilli())
	pipe.LPush(ctx, b.finishedKey(queue, string(constants.JobStatusFailed)), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("fail: %w", err)
	}
	return false, nil
}

func (b *RedisBackend) Heartbeat(ctx context.Context, queue, jobID string) error {
	now := time.Now().UTC().UnixMilli()
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.jobKey(jobID), "heartbeat_at", now)
	pipe.ZAdd(ctx, b.activeKey(queue), redis.Z{Score: float64(now), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (b *RedisBackend) ReclaimStalled(ctx context.Context, queue string, stallAfter time.Duration, maxStallRetries int) (int, int, error) {
	cutoff := time.Now().UTC().Add(-stallAfter).UnixMilli()
	ids, err := b.rdb.ZRangeByScore(ctx, b.activeKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("scan stalled: %w", err)
	}
	var reclaimed, failed int
	for _, id := range ids {
		stalls, err := b.rdb.HIncrBy(ctx, b.jobKey(id), "stall_count", 1).Result()
		if err != nil {
			return reclaimed, failed, err
		}
		now := time.Now().UTC()
		if int(stalls) > maxStallRetries {
			pipe := b.rdb.TxPipeline()
			pipe.ZRem(ctx, b.activeKey(queue), id)
			pipe.HSet(ctx, b.jobKey(id),
				"status", string(constants.JobStatusFailed),
				"last_error", "stall retry cap exceeded",
				"finished_at", now.UnixMilli())
			pipe.LPush(ctx, b.finishedKey(queue, string(constants.JobStatusFailed)), id)
			if _, err := pipe.Exec(ctx); err != nil {
				return reclaimed, failed, err
			}
			failed++
			continue
		}
		vals, err := b.rdb.HMGet(ctx, b.jobKey(id), "priority", "seq").Result()
		if err != nil {
			return reclaimed, failed, err
		}
		// The stalled status and marker set survive until redelivery so
		// the census can report reclaimed-but-unclaimed jobs.
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, b.activeKey(queue), id)
		pipe.HSet(ctx, b.jobKey(id), "status", string(constants.JobStatusStalled), "visible_at", now.UnixMilli())
		pipe.SAdd(ctx, b.stalledKey(queue), id)
		pipe.ZAdd(ctx, b.readyKey(queue), redis.Z{Score: readyScore(hint(vals[0]), hint64(vals[1])), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, failed, err
		}
		reclaimed++
	}
	return reclaimed, failed, nil
}

func (b *RedisBackend) PurgeFinished(ctx context.Context, queue string, keepCompleted, keepFailed int) (int, error) {
	purged := 0
	for status, keep := range map[string]int{
		string(constants.JobStatusCompleted): keepCompleted,
		string(constants.JobStatusFailed):    keepFailed,
	} {
		key := b.finishedKey(queue, status)
		old, err := b.rdb.LRange(ctx, key, int64(keep), -1).Result()
		if err != nil {
			return purged, fmt.Errorf("list finished: %w", err)
		}
		if len(old) == 0 {
			continue
		}
		pipe := b.rdb.TxPipeline()
		pipe.LTrim(ctx, key, 0, int64(keep)-1)
		for _, id := range old {
			pipe.Del(ctx, b.jobKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("trim finished: %w", err)
		}
		purged += len(old)
	}
	return purged, nil
}

func (b *RedisBackend) Counts(ctx context.Context, queue string) (Counts, error) {
	pipe := b.rdb.TxPipeline()
	ready := pipe.ZCard(ctx, b.readyKey(queue))
	delayed := pipe.ZCard(ctx, b.delayedKey(queue))
	active := pipe.ZCard(ctx, b.activeKey(queue))
	stalled := pipe.SCard(ctx, b.stalledKey(queue))
	completed := pipe.LLen(ctx, b.finishedKey(queue, string(constants.JobStatusCompleted)))
	failed := pipe.LLen(ctx, b.finishedKey(queue, string(constants.JobStatusFailed)))
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("counts: %w", err)
	}
	// Stalled ids sit in the ready zset awaiting redelivery; keep the two
	// buckets disjoint.
	waiting := int(ready.Val()+delayed.Val()) - int(stalled.Val())
	if waiting < 0 {
		waiting = 0
	}
	return Counts{
		Waiting:   waiting,
		Active:    int(active.Val()),
		Stalled:   int(stalled.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
	}, nil
}

func (b *RedisBackend) Job(ctx context.Context, queue, jobID string) (*Job, error) {
	vals, err := b.rdb.HGetAll(ctx, b.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if len(vals) == 0 || vals["queue"] != queue {
		return nil, ErrNoSuchJob
	}
	j := &Job{
		ID:          jobID,
		Queue:       queue,
		Payload:     json.RawMessage(vals["payload"]),
		Status:      constants.JobStatus(vals["status"]),
		Attempts:    atoi(vals["attempts"]),
		MaxAttempts: atoi(vals["max_attempts"]),
		Priority:    atoi(vals["priority"]),
		StallCount:  atoi(vals["stall_count"]),
		LastError:   vals["last_error"],
		EnqueuedAt:  msTime(vals["enqueued_at"]),
		VisibleAt:   msTime(vals["visible_at"]),
		HeartbeatAt: msTime(vals["heartbeat_at"]),
		FinishedAt:  msTime(vals["finished_at"]),
	}
	if r := vals["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	return j, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func msTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func hint(v any) int {
	s, _ := v.(string)
	return atoi(s)
}

func hint64(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
