package health

// Status represents overall service health.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the health summary served at /health.
type Report struct {
	OverallStatus   Status   `json:"overall_status"`
	Summary         string   `json:"summary"`
	RosterState     string   `json:"roster_state,omitempty"`
	Signals         []string `json:"signals"`
	Recommendations []string `json:"recommendations"`
}
