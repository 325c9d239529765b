package vat

import "time"

// Recorder receives engine metrics. The telemetry package provides the
// Prometheus implementation.
type Recorder interface {
	CalculationRecorded(rule string, replayed bool)
	CalculationDuration(d time.Duration)
	RateCacheLookup(hit bool)
	RateGap(country string)
	AuditFailed()
	AuditDropped()
	RefundAdjusted(kind string)
}

type nopRecorder struct{}

func (nopRecorder) CalculationRecorded(string, bool)  {}
func (nopRecorder) CalculationDuration(time.Duration) {}
func (nopRecorder) RateCacheLookup(bool)              {}
func (nopRecorder) RateGap(string)                    {}
func (nopRecorder) AuditFailed()                      {}
func (nopRecorder) AuditDropped()                     {}
func (nopRecorder) RefundAdjusted(string)             {}

// NopRecorder discards all metrics.
func NopRecorder() Recorder { return nopRecorder{} }
