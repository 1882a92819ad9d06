package redisstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrNotStored is returned before the first provider call has reported a
// rate-limit snapshot.
var ErrNotStored = errors.New("redisstore: remaining data not stored yet")

const remainingKey = "task:remaining"

// Remaining is the most recent provider rate-limit snapshot. Last write
// wins; there is no history.
type Remaining struct {
	RemainingRequests int    `json:"remaining_requests"`
	RemainingTokens   int    `json:"remaining_tokens"`
	ResetIn           string `json:"reset_in"`
}

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) GetRemaining(ctx context.Context) (*Remaining, error) {
	data, err := s.rdb.HGetAll(ctx, remainingKey).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotStored
	}
	out := &Remaining{ResetIn: data["reset_in"]}
	out.RemainingRequests, _ = strconv.Atoi(data["remaining_requests"])
	out.RemainingTokens, _ = strconv.Atoi(data["remaining_tokens"])
	return out, nil
}

// StoreRemaining unconditionally overwrites the snapshot.
func (s *Store) StoreRemaining(ctx context.Context, r Remaining) error {
	return s.rdb.HSet(ctx, remainingKey, map[string]any{
		"remaining_requests": r.RemainingRequests,
		"remaining_tokens":   r.RemainingTokens,
		"reset_in":           r.ResetIn,
	}).Err()
}
