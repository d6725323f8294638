package domain

const (
	EventNameAttemptStarted     = "attempt.started"
	EventNameAttemptFinished    = "attempt.finished"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAttemptStarted struct {
	Attempt Attempt
}

func (EventAttemptStarted) Name() string { return EventNameAttemptStarted }

// EventAttemptFinished is published once per attempt, by the call that actually finished it.
type EventAttemptFinished struct {
	Attempt Attempt
	Results []Result
	Summary Summary
	Trigger FinishTrigger
}

func (EventAttemptFinished) Name() string { return EventNameAttemptFinished }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
