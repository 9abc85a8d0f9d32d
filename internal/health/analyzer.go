package health

import (
	"strings"

	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// Analyzer converts metrics, logs and roster state into a health report.
type Analyzer struct {
	metrics     *metrics.Registry
	logger      *logs.Logger
	rules       []Rule
	rosterState func() roster.State
}

// NewAnalyzer creates a new analyzer. rosterState may be nil.
func NewAnalyzer(
	reg *metrics.Registry,
	logger *logs.Logger,
	rosterState func() roster.State,
) *Analyzer {
	return &Analyzer{
		metrics:     reg,
		logger:      logger,
		rosterState: rosterState,
		rules: []Rule{
			UpstreamUnhealthyRule,
			UpstreamRetryRule,
			StaleRosterRule,
			PersistenceFailureRule,
			BroadcastDropRule,
		},
	}
}

// Analyze evaluates metrics and logs and returns a health report.
func (a *Analyzer) Analyze() Report {
	snapshot := a.metrics.Snapshot()

	var (
		signals         = []string{}
		recommendations = []string{}
		status          = StatusOK
	)
	raise := func(severity Status, signal, recommendation string) {
		signals = append(signals, signal)
		recommendations = append(recommendations, recommendation)
		if severity == StatusCritical {
			status = StatusCritical
		} else if severity == StatusDegraded && status == StatusOK {
			status = StatusDegraded
		}
	}

	/* ---------- METRICS-BASED RULES ---------- */

	for _, rule := range a.rules {
		if result := rule(snapshot); result.Triggered {
			raise(result.Severity, result.Signal, result.Recommendation)
		}
	}

	/* ---------- ROSTER STATE ---------- */

	var state string
	if a.rosterState != nil {
		st := a.rosterState()
		state = string(st)
		if st == roster.StateCold {
			raise(StatusCritical,
				"Roster has not been loaded",
				"Check the roster source configuration and upstream availability",
			)
		}
	}

	/* ---------- LOG-BASED SIGNALS ---------- */

	deliveryFailures := 0
	panicCount := 0
	for _, entry := range a.logger.GetLast(100) {
		if entry.Level == logs.WARN && strings.Contains(entry.Message, "event delivery failed") {
			deliveryFailures++
		}
		if entry.Level == logs.ERROR && strings.Contains(entry.Message, "panic") {
			panicCount++
		}
	}

	if deliveryFailures >= 3 {
		raise(StatusDegraded,
			"Repeated event delivery failures detected in logs",
			"Investigate realtime client connectivity",
		)
	}
	if panicCount > 0 {
		raise(StatusCritical,
			"Application panics detected in logs",
			"Inspect stack traces and stabilize error handling",
		)
	}

	/* ---------- SUMMARY ---------- */

	summary := "System is healthy"
	if status != StatusOK {
		summary = "System health issues detected"
	}

	return Report{
		OverallStatus:   status,
		Summary:         summary,
		RosterState:     state,
		Signals:         signals,
		Recommendations: recommendations,
	}
}
