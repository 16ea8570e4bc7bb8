package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/protocol"
)

const backendRedis = "redis"

// RedisConfig addresses one Redis database.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, default "lagom".
	Prefix string
}

// Redis stores snapshots as JSON strings and each participant's bookings in
// a sorted set scored by commit time in milliseconds.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if strings.TrimSpace(prefix) == "" {
		prefix = "lagom"
	}
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis dials cfg and verifies the connection.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix), nil
}

func (r *Redis) participantKey(id string) string {
	return fmt.Sprintf("%s:participant:%s", r.prefix, id)
}

func (r *Redis) participantsKey() string {
	return r.prefix + ":participants"
}

func (r *Redis) relationshipKey(initiatorID, targetID string) string {
	return fmt.Sprintf("%s:relationship:%s:%s", r.prefix, initiatorID, targetID)
}

func (r *Redis) bookingsKey(participantID string) string {
	return fmt.Sprintf("%s:bookings:%s", r.prefix, participantID)
}

func (r *Redis) ledgerKey() string {
	return r.prefix + ":ledger"
}

func (r *Redis) Participant(ctx context.Context, id string) (p protocol.Participant, err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "participant", err) }()
	raw, err := r.client.Get(ctx, r.participantKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.Participant{}, fmt.Errorf("%w: participant %q", ErrNotFound, id)
	}
	if err != nil {
		return protocol.Participant{}, err
	}
	err = json.Unmarshal(raw, &p)
	return p, err
}

func (r *Redis) Participants(ctx context.Context) ([]protocol.Participant, error) {
	ids, err := r.client.SMembers(ctx, r.participantsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]protocol.Participant, 0, len(ids))
	for _, id := range ids {
		p, err := r.Participant(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Redis) PutParticipant(ctx context.Context, p protocol.Participant) (err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "put_participant", err) }()
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.participantKey(p.ID), payload, 0)
		pipe.SAdd(ctx, r.participantsKey(), p.ID)
		return nil
	})
	return err
}

func (r *Redis) Relationship(ctx context.Context, initiatorID, targetID string) (rel protocol.Relationship, err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "relationship", err) }()
	raw, err := r.client.Get(ctx, r.relationshipKey(initiatorID, targetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return protocol.Relationship{}, fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
	}
	if err != nil {
		return protocol.Relationship{}, err
	}
	err = json.Unmarshal(raw, &rel)
	return rel, err
}

func (r *Redis) PutRelationship(ctx context.Context, rel protocol.Relationship) (err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "put_relationship", err) }()
	if err := rel.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rel)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.relationshipKey(rel.InitiatorID, rel.TargetID), payload, 0).Err()
}

func (r *Redis) TouchRelationship(ctx context.Context, initiatorID, targetID string, at time.Time) (err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "touch_relationship", err) }()
	key := r.relationshipKey(initiatorID, targetID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
		}
		if err != nil {
			return err
		}
		var rel protocol.Relationship
		if err := json.Unmarshal(raw, &rel); err != nil {
			return err
		}
		rel.LastInteraction = at
		payload, err := json.Marshal(rel)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
}

func (r *Redis) RecordBooking(ctx context.Context, b Booking) (err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "record_booking", err) }()
	if err := b.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.bookingsKey(b.ParticipantID), redis.Z{
			Score:  float64(b.CommittedAt.UnixMilli()),
			Member: payload,
		})
		pipe.SAdd(ctx, r.ledgerKey(), b.ParticipantID)
		return nil
	})
	return err
}

func (r *Redis) Bookings(ctx context.Context, participantID string, since, until time.Time) ([]Booking, error) {
	members, err := r.client.ZRangeByScore(ctx, r.bookingsKey(participantID), &redis.ZRangeBy{
		Min: scoreMin(since),
		Max: scoreMaxExclusive(until),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Booking, 0, len(members))
	for _, m := range members {
		var b Booking
		if err := json.Unmarshal([]byte(m), &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *Redis) CountCommitted(ctx context.Context, participantID string, since, until time.Time) (n int, err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "count_committed", err) }()
	count, err := r.client.ZCount(ctx, r.bookingsKey(participantID), scoreMin(since), scoreMaxExclusive(until)).Result()
	return int(count), err
}

func (r *Redis) Prune(ctx context.Context, cutoff time.Time) (removed int, err error) {
	defer func() { observability.RecordStoreOp(backendRedis, "prune", err) }()
	ids, err := r.client.SMembers(ctx, r.ledgerKey()).Result()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		key := r.bookingsKey(id)
		n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", scoreMaxExclusive(cutoff)).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
		left, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return removed, err
		}
		if left == 0 {
			if err := r.client.SRem(ctx, r.ledgerKey(), id).Err(); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func scoreMin(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func scoreMaxExclusive(t time.Time) string {
	return "(" + strconv.FormatInt(t.UnixMilli(), 10)
}
