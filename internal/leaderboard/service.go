package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
		return s.RecordAttempt(ctx, e.(domain.EventAttemptFinished))
	})

	return s
}

type GetLeaderboardRequest struct {
	QuizID string
}

// GetLeaderboard returns every user who finished the quiz with their best ratio, highest first.
// A quiz nobody finished yet has an empty leaderboard.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.QuizID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserID: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		QuizID:  req.QuizID,
		Entries: entries,
	}, nil
}

// RecordAttempt keeps the user's best ratio for the quiz. A worse retry leaves the board unchanged.
func (s *Service) RecordAttempt(ctx context.Context, e domain.EventAttemptFinished) error {
	a := e.Attempt

	if err := s.redis.ZAddGT(ctx, s.getLeaderboardKey(a.QuizID), redis.Z{
		Score:  e.Summary.Ratio.InexactFloat64(),
		Member: a.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, a)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per quiz per interval.
// Many attempts of a popular quiz finish close together when its timers run out.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, a domain.Attempt) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(a.QuizID), a.FinishTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{QuizID: a.QuizID})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: quiz=%s: %w", a.QuizID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(quizID string) string {
	return fmt.Sprintf("%s:quiz:%s:leaderboard", s.prefix, quizID)
}

func (s *Service) getLeaderboardTimeKey(quizID string) string {
	return fmt.Sprintf("%s:quiz:%s:published", s.prefix, quizID)
}
