package tonchain

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore remembers the masterchain seqno at which a transaction was first
// observed. Confirmation depth is counted from there.
type SeenStore interface {
	FirstSeen(ctx context.Context, txHash string, seqno uint32) (uint32, error)
}

type RedisSeenStore struct {
	cli *redis.Client
	ttl time.Duration
}

func NewRedisSeenStore(cli *redis.Client, ttl time.Duration) *RedisSeenStore {
	return &RedisSeenStore{cli: cli, ttl: ttl}
}

func (s *RedisSeenStore) FirstSeen(ctx context.Context, txHash string, seqno uint32) (uint32, error) {
	key := "ton:seen:" + txHash
	if err := s.cli.SetNX(ctx, key, seqno, s.ttl).Err(); err != nil {
		return 0, err
	}
	v, err := s.cli.Get(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	first, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(first), nil
}

type MemorySeenStore struct {
	mu   sync.Mutex
	seen map[string]uint32
}

func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{seen: make(map[string]uint32)}
}

func (s *MemorySeenStore) FirstSeen(_ context.Context, txHash string, seqno uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if first, ok := s.seen[txHash]; ok {
		return first, nil
	}
	s.seen[txHash] = seqno
	return seqno, nil
}

// Confirmations counts the blocks from first sighting to now, inclusive.
func Confirmations(first, current uint32) int {
	if current < first {
		return 1
	}
	return int(current-first) + 1
}
