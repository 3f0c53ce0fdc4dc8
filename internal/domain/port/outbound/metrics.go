package outbound

import "time"

type MetricsRecorder interface {
	AlertRaised(alertType, severity string)
	RuleFailed(rule string)
	TickSkipped()
	TickDuration(d time.Duration)
	RollbackFinished(environment, outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) AlertRaised(string, string)      {}
func (NopMetrics) RuleFailed(string)               {}
func (NopMetrics) TickSkipped()                    {}
func (NopMetrics) TickDuration(time.Duration)      {}
func (NopMetrics) RollbackFinished(string, string) {}
