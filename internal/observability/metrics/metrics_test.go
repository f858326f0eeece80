package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordSubmission(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSubmission("text", nil, 0.1)
	m.RecordSubmission("text", errors.New("boom"), 0.2)
	m.RecordSubmission("audio", nil, 0.3)

	if got := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("text", "ok")); got != 1 {
		t.Errorf("expected 1 ok text submission, got %v", got)
	}
	if got := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("text", "error")); got != 1 {
		t.Errorf("expected 1 failed text submission, got %v", got)
	}
	if got := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("audio", "ok")); got != 1 {
		t.Errorf("expected 1 ok audio submission, got %v", got)
	}
}

func TestRecordSessionLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd(true)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("expected 1 active session, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsDone); got != 1 {
		t.Errorf("expected 1 completed session, got %v", got)
	}

	m.RecordSessionEnd(false)
	if got := testutil.ToFloat64(m.SessionsReset); got != 1 {
		t.Errorf("expected 1 reset session, got %v", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordKafkaPublish("timeline", "entry", nil, 0.01)
	m.RecordKafkaPublish("timeline", "entry", errors.New("broker down"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("timeline", "entry")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("timeline", "entry")); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on distinct registries must not panic.
	_ = NewMetrics(prometheus.NewRegistry())
	_ = NewMetrics(prometheus.NewRegistry())
}
