package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/prospectcrm/crmgate"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot crmgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() crmgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := crmgate.MetricsSnapshot{
		Counters:   make(map[crmgate.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[crmgate.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			require.NotEmpty(t, sum.DataPoints)
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: crmgate.MetricsSnapshot{
			Counters: map[crmgate.MetricID]uint64{crmgate.MetricRestoreSucceeded: 3},
			Histograms: map[crmgate.MetricID][]uint64{
				crmgate.MetricRestoreLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("crmgate-test"), src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Equal(t, int64(3), findSum(t, rm, "crmgate_restore_succeeded_total"))
	require.Equal(t, int64(1), findSum(t, rm, "crmgate_audit_dropped_total"))
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	_, err := NewExporter(provider.Meter("crmgate-test"), nil)
	require.ErrorIs(t, err, ErrNilSource)
	_, err = NewExporter(nil, &fakeSource{})
	require.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: crmgate.MetricsSnapshot{
			Counters:   map[crmgate.MetricID]uint64{crmgate.MetricLoginSuccess: 1},
			Histograms: map[crmgate.MetricID][]uint64{},
		},
	}
	exp, err := NewExporter(provider.Meter("crmgate-test"), src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[crmgate.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
