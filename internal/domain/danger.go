package domain

// DangerSeverity ranks how bad a danger signal is.
type DangerSeverity string

const (
	SeverityWarning   DangerSeverity = "warning"
	SeverityCritical  DangerSeverity = "critical"
	SeverityEmergency DangerSeverity = "emergency"
)

// DangerRecommendation tells the position manager how to respond.
type DangerRecommendation string

const (
	RecommendMonitor         DangerRecommendation = "monitor"
	RecommendTightenStop     DangerRecommendation = "tighten_stop"
	RecommendExitImmediately DangerRecommendation = "exit_immediately"
)

// DangerSignal is the output of one risk check against a live position.
type DangerSignal struct {
	Dangerous      bool
	Type           string
	Severity       DangerSeverity
	Reason         string
	Recommendation DangerRecommendation
}

// Safe is the all-clear signal returned by checks that found nothing and by
// checks that degraded on a data-source error (fail-open semantics).
func Safe() DangerSignal {
	return DangerSignal{Recommendation: RecommendMonitor}
}
