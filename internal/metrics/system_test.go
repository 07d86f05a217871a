package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSystemSamplerUpdatesGoroutineGauge(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	sampler := NewSystemSampler(reg)

	done := make(chan struct{})
	go func() {
		sampler.Run(5 * time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	sampler.Stop()
	<-done

	var metric dto.Metric
	if err := reg.Goroutines.Write(&metric); err != nil {
		t.Fatalf("write goroutine gauge: %v", err)
	}
	if metric.GetGauge().GetValue() <= 0 {
		t.Fatalf("expected goroutine gauge to be positive, got %v", metric.GetGauge().GetValue())
	}
}
