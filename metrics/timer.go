package metrics

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Timer tracks one operation's wall time and reports it to both the log and,
// when attached, the Prometheus collectors.
type Timer struct {
	operation string
	startTime time.Time
	logger    logrus.FieldLogger
	metrics   *Metrics
}

// Start begins timing an operation. metrics may be nil.
func Start(operation string, logger logrus.FieldLogger, metrics *Metrics) *Timer {
	return &Timer{
		operation: operation,
		startTime: time.Now(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Stop ends timing, records the observation, and returns the duration.
func (t *Timer) Stop(success bool) time.Duration {
	duration := time.Since(t.startTime)
	if t.metrics != nil {
		t.metrics.Observe(t.operation, success, duration)
	}
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"operation":   t.operation,
			"duration_ms": duration.Milliseconds(),
			"success":     success,
		}).Info("operation completed")
	}
	return duration
}

// StopWithThreshold is Stop but escalates to a warning when the operation ran
// longer than threshold.
func (t *Timer) StopWithThreshold(success bool, threshold time.Duration) time.Duration {
	duration := time.Since(t.startTime)
	if t.metrics != nil {
		t.metrics.Observe(t.operation, success, duration)
	}
	if t.logger != nil {
		fields := logrus.Fields{
			"operation":   t.operation,
			"duration_ms": duration.Milliseconds(),
			"success":     success,
		}
		if duration > threshold {
			t.logger.WithFields(fields).Warn("operation exceeded threshold")
		} else {
			t.logger.WithFields(fields).Debug("operation completed")
		}
	}
	return duration
}
