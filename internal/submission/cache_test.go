package submission_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/submission"
)

func TestResultCache_KeepsFirst(t *testing.T) {
	first := []domain.Result{
		{QuestionID: "q1", ChosenChoiceID: ptr("c1a"), CorrectChoiceID: "c1a", IsCorrect: true, Explanation: "because"},
		{QuestionID: "q2", CorrectChoiceID: "c2b"},
	}
	later := []domain.Result{
		{QuestionID: "q1", ChosenChoiceID: ptr("c1b"), CorrectChoiceID: "c1a"},
	}

	tests := map[string]struct {
		arrange func(t *testing.T) submission.ResultCache
	}{
		"memory": {
			arrange: func(t *testing.T) submission.ResultCache {
				return submission.NewMemoryCache()
			},
		},
		"redis": {
			arrange: func(t *testing.T) submission.ResultCache {
				return submission.NewRedisCache(makeRedis(t), "tquiz", time.Hour)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			c := tt.arrange(t)

			_, ok, err := c.Get(ctx, "a1")
			require.NoError(t, err)
			assert.False(t, ok)

			kept, err := c.Add(ctx, "a1", first)
			require.NoError(t, err)
			assert.Equal(t, first, kept)

			kept, err = c.Add(ctx, "a1", later)
			require.NoError(t, err)
			assert.Equal(t, first, kept, "a later payload is discarded")

			got, ok, err := c.Get(ctx, "a1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first, got)
		})
	}
}

func TestRedisCache_Expires(t *testing.T) {
	ctx := context.Background()
	rs := miniredis.RunT(t)
	c := submission.NewRedisCache(redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	}), "tquiz", time.Minute)

	_, err := c.Add(ctx, "a1", []domain.Result{{QuestionID: "q1"}})
	require.NoError(t, err)
	assert.True(t, rs.Exists("tquiz:attempt:a1:results"))

	rs.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func makeRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}

func ptr(s string) *string { return &s }
