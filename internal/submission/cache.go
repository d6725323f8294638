package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/tquiz/internal/domain"
)

// ResultCache remembers the first results seen for an attempt. Later payloads for the same
// attempt are discarded.
type ResultCache interface {
	Get(ctx context.Context, attemptID string) ([]domain.Result, bool, error)
	// Add stores results unless the attempt already has some, and returns the ones kept.
	Add(ctx context.Context, attemptID string, results []domain.Result) ([]domain.Result, error)
}

type MemoryCache struct {
	mu      sync.Mutex
	results map[string][]domain.Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{results: make(map[string][]domain.Result)}
}

func (m *MemoryCache) Get(_ context.Context, attemptID string) ([]domain.Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.results[attemptID]
	if !ok {
		return nil, false, nil
	}

	return append([]domain.Result(nil), rs...), true, nil
}

func (m *MemoryCache) Add(_ context.Context, attemptID string, results []domain.Result) ([]domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rs, ok := m.results[attemptID]; ok {
		return append([]domain.Result(nil), rs...), nil
	}

	m.results[attemptID] = append([]domain.Result(nil), results...)
	return results, nil
}

// RedisCache shares first-write-wins results between instances with SETNX.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(r redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		redis:  r,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, attemptID string) ([]domain.Result, bool, error) {
	b, err := c.redis.Get(ctx, c.key(attemptID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get results: %w", err)
	}

	rs, err := decodeResults(b)
	if err != nil {
		return nil, false, err
	}

	return rs, true, nil
}

func (c *RedisCache) Add(ctx context.Context, attemptID string, results []domain.Result) ([]domain.Result, error) {
	b, err := encodeResults(results)
	if err != nil {
		return nil, err
	}

	ok, err := c.redis.SetNX(ctx, c.key(attemptID), b, c.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx results: %w", err)
	}

	if ok {
		return results, nil
	}

	kept, found, err := c.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !found {
		// Expired between SETNX and GET; the payload we hold is as canonical as any.
		return results, nil
	}

	return kept, nil
}

func (c *RedisCache) key(attemptID string) string {
	return fmt.Sprintf("%s:attempt:%s:results", c.prefix, attemptID)
}

type cachedResult struct {
	QuestionID      string  `json:"question_id"`
	ChosenChoiceID  *string `json:"chosen_choice_id"`
	CorrectChoiceID string  `json:"correct_choice_id"`
	IsCorrect       bool    `json:"is_correct"`
	Explanation     string  `json:"explanation,omitempty"`
}

func encodeResults(results []domain.Result) ([]byte, error) {
	rs := make([]cachedResult, 0, len(results))
	for _, r := range results {
		rs = append(rs, cachedResult(r))
	}

	b, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}

	return b, nil
}

func decodeResults(b []byte) ([]domain.Result, error) {
	var rs []cachedResult
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}

	results := make([]domain.Result, 0, len(rs))
	for _, r := range rs {
		results = append(results, domain.Result(r))
	}

	return results, nil
}
