// Package attempt tracks the lifecycle of a timed quiz attempt.
//
// An attempt goes NotStarted -> InProgress -> Finished. Remaining time is never stored: it is
// recomputed from the fixed deadline and the server clock on every observation. Reaching zero is
// a signal for the caller to finish the attempt; this package never changes the status itself.
package attempt

import (
	"strings"
	"time"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
)

type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// StateOf maps an attempt to its lifecycle state. A nil attempt has not been started.
func StateOf(a *domain.Attempt) State {
	switch {
	case a == nil:
		return StateNotStarted
	case a.Finished():
		return StateFinished
	default:
		return StateInProgress
	}
}

// RemainingSeconds is max(0, floor(endsAt - now)). A missing deadline counts as expired.
func RemainingSeconds(endsAt, now time.Time) int {
	if endsAt.IsZero() {
		return 0
	}

	d := endsAt.Sub(now)
	if d <= 0 {
		return 0
	}

	return int(d / time.Second)
}

// RemainingSecondsFrom is RemainingSeconds for a deadline in text form. Anything unparsable
// yields 0 so a broken deadline ends the attempt instead of extending it.
func RemainingSecondsFrom(raw string, now time.Time) int {
	endsAt, err := ParseDeadline(raw)
	if err != nil {
		return 0
	}

	return RemainingSeconds(endsAt, now)
}

// Expired reports whether the attempt is still open but has no time left.
func Expired(a *domain.Attempt, now time.Time) bool {
	return StateOf(a) == StateInProgress && RemainingSeconds(a.EndsAt, now) == 0
}

// Layouts accept a 'T' or space separator; fractional seconds are always accepted when parsing.
var deadlineLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04:05-07",
	"2006-01-02 15:04:05-07",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDeadline parses a stored deadline. It accepts a trailing Z or an explicit offset; a value
// without any offset is taken as UTC. The result is always in UTC.
func ParseDeadline(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}

	if s != "" {
		for _, layout := range deadlineLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
	}

	return time.Time{}, errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonMalformedDeadline),
		errors.WithMessagef("malformed deadline: %q", raw),
	)
}
