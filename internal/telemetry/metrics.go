package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tquiz",
		Name:      "attempts_started_total",
		Help:      "Attempts created.",
	})

	AttemptsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tquiz",
		Name:      "attempts_finished_total",
		Help:      "Attempts finished, by what triggered the finish.",
	}, []string{"trigger"})

	FinishDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tquiz",
		Name:      "finish_duplicates_total",
		Help:      "Finish calls answered from an earlier finish instead of scoring again.",
	})

	FinishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tquiz",
		Name:      "finish_failures_total",
		Help:      "Finish calls that failed, by error reason.",
	}, []string{"reason"})
)
