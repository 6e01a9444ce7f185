package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteText writes every gathered metric family in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// CounterValue returns the value of the counter with the given name whose
// labels include all of labels. A missing series reads as 0.
func CounterValue(g prometheus.Gatherer, name string, labels map[string]string) (float64, error) {
	m, err := findMetric(g, name, labels)
	if err != nil || m == nil {
		return 0, err
	}
	if m.GetCounter() == nil {
		return 0, fmt.Errorf("%s is not a counter", name)
	}
	return m.GetCounter().GetValue(), nil
}

// GaugeValue is CounterValue for gauges.
func GaugeValue(g prometheus.Gatherer, name string, labels map[string]string) (float64, error) {
	m, err := findMetric(g, name, labels)
	if err != nil || m == nil {
		return 0, err
	}
	if m.GetGauge() == nil {
		return 0, fmt.Errorf("%s is not a gauge", name)
	}
	return m.GetGauge().GetValue(), nil
}

// HistogramCount returns the sample count of a histogram.
func HistogramCount(g prometheus.Gatherer, name string) (uint64, error) {
	m, err := findMetric(g, name, nil)
	if err != nil || m == nil {
		return 0, err
	}
	if m.GetHistogram() == nil {
		return 0, fmt.Errorf("%s is not a histogram", name)
	}
	return m.GetHistogram().GetSampleCount(), nil
}

func findMetric(g prometheus.Gatherer, name string, labels map[string]string) (*dto.Metric, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m, nil
			}
		}
	}
	return nil, nil
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, lp := range pairs {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
