package dispatch

import (
	"bytes"
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteMetrics renders the Stats counters (component J) as Prometheus text
// exposition format for a healthcheck/metrics HTTP surface. This builds
// plain dto.MetricFamily values and hands them to
// prometheus/common/expfmt directly rather than registering them in a
// full client_golang Registry, since three counters and one gauge don't
// warrant a registry's bookkeeping.
func WriteMetrics(w io.Writer, snap StatsSnapshot) error {
	families := []*dto.MetricFamily{
		counterFamily("dispatch_submissions_success_total", "Total submissions whose broadcast was accepted and resolved successfully.", float64(snap.Success)),
		counterFamily("dispatch_submissions_failure_total", "Total submissions that terminated with a non-retryable error.", float64(snap.Failure)),
		counterFamily("dispatch_submissions_retry_total", "Total sequence-fault retries across all accounts.", float64(snap.Retry)),
		gaugeFamily("dispatch_submissions_pending", "Submissions currently queued across all accounts.", float64(snap.Pending)),
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, f := range families {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}

// RenderMetrics is a convenience wrapper returning the exposition text as
// a string, used by tests that don't need an io.Writer.
func RenderMetrics(snap StatsSnapshot) (string, error) {
	var buf bytes.Buffer
	if err := WriteMetrics(&buf, snap); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_COUNTER
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &t,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: &value}},
		},
	}
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &t,
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: &value}},
		},
	}
}
