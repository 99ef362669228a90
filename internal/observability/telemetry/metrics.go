package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "siga_active_sessions",
		Help: "Number of live dialogue sessions",
	})

	DialogueTurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siga_dialogue_turns_total",
		Help: "Dialogue transitions processed, by source state and outcome",
	}, []string{"state", "status"})

	DuplicateDispatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siga_duplicate_dispatch_total",
		Help: "User events dropped because no input was awaited",
	})

	QuotaExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siga_quota_exhausted_total",
		Help: "Sessions that spent their free question allowance",
	})

	SpeechRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siga_speech_requests_total",
		Help: "Utterances handed to the avatar subsystem",
	}, []string{"status"})

	SpeechInterruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siga_speech_interrupts_total",
		Help: "In-flight utterances pre-empted by a newer request",
	})

	IdleExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siga_idle_expirations_total",
		Help: "Avatar sessions torn down by the idle timer",
	})

	TranslationMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siga_translation_misses_total",
		Help: "Lookups that fell back to the key verbatim",
	}, []string{"language"})

	// Infrastructure metrics
	AnsweringLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "siga_answering_latency_seconds",
		Help:    "Round trip to the answering service including decode",
		Buckets: prometheus.DefBuckets,
	})

	ReportsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "siga_reports_requested_total",
		Help: "Structured report generations requested",
	})
)
