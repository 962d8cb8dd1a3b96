package metrics

import "time"

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordIdentityOutcome(outcome string)                                {}
func (n *NoopMetrics) RecordProviderCall(operation string, success bool, d time.Duration)  {}
func (n *NoopMetrics) RecordTokenRefresh(success bool)                                     {}
func (n *NoopMetrics) RecordSessionIssued(method string)                                   {}
func (n *NoopMetrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {}
