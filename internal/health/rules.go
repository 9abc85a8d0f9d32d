package health

import "rollcall/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// ---------- RULES ----------

// An unhealthy roster source means reloads keep failing.
func UpstreamUnhealthyRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.UpstreamUnhealthy)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Roster source is unhealthy",
			Recommendation: "Check spreadsheet credentials, sharing and quota",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}

// Upstream retries indicate a flaky roster source.
func UpstreamRetryRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.UpstreamRetriesTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Roster source retries detected",
			Recommendation: "Check network connectivity or raise the source timeout",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Stale rosters were served because a reload failed.
func StaleRosterRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.RosterStaleServedTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Stale roster served after reload failure",
			Recommendation: "Recent roster changes may be missing; invalidate once the source recovers",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Failed appends mean attendance was not recorded.
func PersistenceFailureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.PersistenceFailuresTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Attendance log writes failed",
			Recommendation: "Check disk space and permissions of the attendance log",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}

// Dropped events mean some clients missed updates.
func BroadcastDropRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.BroadcastDroppedTotal)] > 0 ||
		snapshot[string(metrics.RealtimeClientsDroppedTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Realtime events dropped",
			Recommendation: "Raise the broadcast queue size or investigate slow clients",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}
