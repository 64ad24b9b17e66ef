package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	OrdersTotal.WithLabelValues("AAPL", "buy").Inc()
	RejectionsTotal.WithLabelValues("confidence").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	want := map[string]bool{"trader_orders_total": false, "trader_rejections_total": false}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("%s metric not found", name)
		}
	}
}

func TestDailyTradesGauge(t *testing.T) {
	DailyTrades.Set(3)
	if got := testutil.ToFloat64(DailyTrades); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}
