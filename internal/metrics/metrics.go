package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_iterations_total", Help: "Scheduler iterations by market state"},
		[]string{"state"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_signals_total", Help: "Signals generated"},
		[]string{"symbol", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_order_failures_total", Help: "Order submissions rejected by the broker"},
		[]string{"symbol", "side"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_rejections_total", Help: "Signals blocked by the risk policy"},
		[]string{"reason"},
	)
	SymbolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_symbol_errors_total", Help: "Per-symbol failures that skipped a symbol"},
		[]string{"symbol", "stage"},
	)
	DailyTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "trader_daily_trades", Help: "Trades counted toward today's limit"},
	)
)

func init() {
	prometheus.MustRegister(IterationsTotal, SignalsTotal, OrdersTotal, OrderFailuresTotal,
		RejectionsTotal, SymbolErrorsTotal, DailyTrades)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
