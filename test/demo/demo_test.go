//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/tquiz/internal/api"
	"github.com/victornm/tquiz/internal/domain"
)

const (
	addr   = "http://localhost:8080"
	quizID = "go-basics"
)

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		auth  = api.NewAuthenticator(secret(), "tquiz", nil)
		wg    = new(sync.WaitGroup)
		users = []string{"u1", "u2", "u3"}
	)

	// Prepare Redis subscriber
	subscribeAsUser(t, ctx, makeRedis(t), wg, "u1")

	// Every user starts an attempt and finishes it twice at the same time; both finishes must
	// agree on the results.
	var eg errgroup.Group
	for i, u := range users {
		eg.Go(func() error {
			token, err := auth.Issue(u, time.Hour)
			if err != nil {
				return err
			}

			var a api.Attempt
			if err := call(ctx, token, http.MethodPost, "/v1/quizzes/"+quizID+"/attempts", nil, http.StatusCreated, &a); err != nil {
				return fmt.Errorf("user %q start attempt: %w", u, err)
			}

			answers := api.FinishAttemptRequest{Answers: domain.Answers{"go-basics-1": "go-basics-1-a"}}
			if i%2 == 1 {
				answers.Answers["go-basics-2"] = "go-basics-2-b"
			}

			var outs [2]api.Outcome
			var feg errgroup.Group
			for j := range outs {
				feg.Go(func() error {
					return call(ctx, token, http.MethodPost, "/v1/attempts/"+a.AttemptID+"/finish", answers, http.StatusOK, &outs[j])
				})
			}
			if err := feg.Wait(); err != nil {
				return fmt.Errorf("user %q finish: %w", u, err)
			}

			if outs[0].Summary != outs[1].Summary {
				return fmt.Errorf("user %q: concurrent finishes disagree: %+v vs %+v", u, outs[0].Summary, outs[1].Summary)
			}

			t.Logf("User %q finished: %d/%d", u, outs[0].Summary.Correct, outs[0].Summary.Total)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	time.Sleep(2 * time.Second)

	token, err := auth.Issue("u1", time.Hour)
	require.NoError(t, err)

	var l api.Leaderboard
	require.NoError(t, call(ctx, token, http.MethodGet, "/v1/quizzes/"+quizID+"/leaderboard", nil, http.StatusOK, &l))
	t.Logf("leaderboard:\n%s", formatLeaderboard(l))

	cancel()
	wg.Wait()
}

func call(ctx context.Context, token, method, path string, body any, wantCode int, out any) error {
	var b bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&b).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, addr+path, &b)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantCode {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func subscribeAsUser(t *testing.T, ctx context.Context, rc redis.UniversalClient, wg *sync.WaitGroup, u string) {
	wg.Add(1)
	sub := subscribeRedis(t, ctx, rc, fmt.Sprintf("tquiz:user:%s", u))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.EventNameLeaderboardUpdated:
				var l api.Leaderboard
				if err := json.Unmarshal(n.Data, &l); err != nil {
					t.Logf("unmarshal leaderboard: %v", err)
					continue
				}

				t.Logf("%s leaderboard:\n%s", u, formatLeaderboard(l))

			case domain.EventNameAttemptFinished:
				var o api.Outcome
				if err := json.Unmarshal(n.Data, &o); err != nil {
					t.Logf("unmarshal outcome: %v", err)
					continue
				}

				t.Logf("%s attempt %s finished: %d/%d", u, o.Attempt.AttemptID, o.Summary.Correct, o.Summary.Total)
			}
		}
	}()
}

func subscribeRedis(t *testing.T, ctx context.Context, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func secret() string {
	if s := os.Getenv("AUTH_SECRET"); s != "" {
		return s
	}
	return "local-secret"
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%s: %s\n", e.UserID, e.Score)
	}
	return s
}
