package build

import (
	"sync"
	"time"
)

// Summary is a point-in-time copy of the counters.
type Summary struct {
	Total           int64
	Succeeded       int64
	Failed          int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	LastError       error
}

// SuccessRate returns the share of successful runs as a percentage.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

// LogFields returns the summary as logger key/value pairs.
func (s Summary) LogFields() []interface{} {
	fields := []interface{}{
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"success_rate", s.SuccessRate(),
		"average_duration", s.AverageDuration,
	}
	if s.LastError != nil {
		fields = append(fields, "last_error", s.LastError.Error())
	}
	return fields
}

// Metrics counts builds and reconcile cycles.
type Metrics struct {
	mutex   sync.RWMutex
	summary Summary
}

// NewMetrics creates an empty tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Record adds one run that took d and ended with err.
func (m *Metrics) Record(d time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := &m.summary
	s.Total++
	s.TotalDuration += d
	if err != nil {
		s.Failed++
		s.LastError = err
	} else {
		s.Succeeded++
	}
	s.AverageDuration = s.TotalDuration / time.Duration(s.Total)
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Summary {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.summary
}

// SuccessRate returns the share of successful runs as a percentage.
func (m *Metrics) SuccessRate() float64 {
	return m.Snapshot().SuccessRate()
}
