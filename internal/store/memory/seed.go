package memory

import (
	"time"

	"github.com/victornm/tquiz/internal/store"
)

// SeedSample loads the sample quiz so a fresh server without a database has something to serve.
func SeedSample(s *Store, now time.Time) {
	seed := store.SampleSeed(now)
	s.PutQuiz(seed.Quiz, seed.Questions, seed.Key)
}
