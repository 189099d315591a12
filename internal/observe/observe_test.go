package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.RecognitionDuration == nil || m.ReplyLatency == nil ||
		m.BargeIns == nil || m.SynthesisBacklog == nil {
		t.Fatal("NewMetrics left instruments nil")
	}
}

func TestStageHistograms_RecordObservations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecognitionDuration.Record(ctx, 0.25)
	m.GenerationDuration.Record(ctx, 1.2)
	m.SynthesisDuration.Record(ctx, 0.08)
	m.ReplyLatency.Record(ctx, 0.6)

	rm := collect(t, reader)
	for _, name := range []string{
		"hibiki.recognition.duration",
		"hibiki.generation.duration",
		"hibiki.synthesis.duration",
		"hibiki.reply.latency",
	} {
		md := findMetric(rm, name)
		if md == nil {
			t.Errorf("metric %q not collected", name)
			continue
		}
		hist, ok := md.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %q is not a float64 histogram", name)
			continue
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q datapoints = %+v, want one observation", name, hist.DataPoints)
		}
	}
}

func TestRecordUtterance_TagsReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "silence")
	m.RecordUtterance(ctx, "silence")
	m.RecordUtterance(ctx, "max_duration")

	rm := collect(t, reader)
	md := findMetric(rm, "hibiki.utterances")
	if md == nil {
		t.Fatal("utterance counter not collected")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("utterance counter data = %T", md.Data)
	}

	byReason := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key("reason")); found {
			byReason[v.AsString()] = dp.Value
		}
	}
	if byReason["silence"] != 2 || byReason["max_duration"] != 1 {
		t.Errorf("byReason = %v, want silence=2 max_duration=1", byReason)
	}
}

func TestRecordPipelineError_TagsStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordPipelineError(context.Background(), "synthesis")

	rm := collect(t, reader)
	md := findMetric(rm, "hibiki.pipeline.errors")
	if md == nil {
		t.Fatal("pipeline error counter not collected")
	}
	sum := md.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("datapoints = %+v", sum.DataPoints)
	}
	if v, found := sum.DataPoints[0].Attributes.Value(attribute.Key("stage")); !found || v.AsString() != "synthesis" {
		t.Errorf("stage attribute = %v", v)
	}
}

func TestMiddleware_RecordsDurationAndCorrelation(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	rm := collect(t, reader)
	md := findMetric(rm, "hibiki.http.request.duration")
	if md == nil {
		t.Fatal("http duration metric not collected")
	}
	hist := md.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(hist.DataPoints))
	}
	if v, found := hist.DataPoints[0].Attributes.Value(attribute.Key("path")); !found || v.AsString() != "/metrics" {
		t.Errorf("path attribute = %v", v)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if id := CorrelationID(context.Background()); id != "" {
		t.Errorf("CorrelationID = %q, want empty without a span", id)
	}
}
