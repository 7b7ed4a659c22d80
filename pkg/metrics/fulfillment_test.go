package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestFulfillmentMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewFulfillmentMetrics(reg)
	location := "warehouse-east"
	metrics.ObserveDecrementDuration(location, 250*time.Millisecond)
	metrics.IncDecrement(location)
	metrics.IncShortfall(location)
	metrics.IncRelease(location)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "stock_decrement_total", "location", location); err != nil {
		t.Fatalf("fetch decrement: %v", err)
	} else if got != 1 {
		t.Fatalf("expected decrement=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "stock_shortfall_total", "location", location); err != nil {
		t.Fatalf("fetch shortfall: %v", err)
	} else if got != 1 {
		t.Fatalf("expected shortfall=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "stock_release_total", "location", location); err != nil {
		t.Fatalf("fetch release: %v", err)
	} else if got != 1 {
		t.Fatalf("expected release=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "stock_decrement_duration_seconds", "location", location); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestFulfillmentMetricsNilRegisterer(t *testing.T) {
	metrics := NewFulfillmentMetrics(nil)
	metrics.IncDecrement("anywhere")
	metrics.ObserveDecrementDuration("anywhere", time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
