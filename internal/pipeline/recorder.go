package pipeline

import (
	"github.com/include/ingest/internal/domain/crosswalk"
	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/platform/telemetry"
)

// metricsRecorder counts crosswalk events on the run metrics.
type metricsRecorder struct {
	m *telemetry.Metrics
}

var _ crosswalk.Recorder = metricsRecorder{}

func (r metricsRecorder) RegistrationFailed(sys terminology.System, st terminology.Status) {
	r.m.RegistrationFailures.WithLabelValues(string(sys), st.String()).Inc()
}

func (r metricsRecorder) LabelUnmatched() {
	r.m.UnmatchedLabels.Inc()
}
