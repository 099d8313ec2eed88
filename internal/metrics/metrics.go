package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the relay decision state the same way the old statsd gauges
// did, plus the inputs the decision is made from. A private registry keeps
// repeated construction in tests from tripping duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	relayState        prometheus.Gauge
	loadshedding      prometheus.Gauge
	batterySOC        prometheus.Gauge
	batteryDCPower    prometheus.Gauge
	batteryDCPowerAvg prometheus.Gauge
	relayTransitions  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "Venus relay state (1 closed, 0 open).",
		}),
		loadshedding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loadshedding",
			Help: "AC input state (1 lost/inverting, 0 present).",
		}),
		batterySOC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_soc",
			Help: "Battery state of charge in percent.",
		}),
		batteryDCPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_dc_power",
			Help: "Instantaneous battery DC power in watts.",
		}),
		batteryDCPowerAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battery_dc_power_avg",
			Help: "Smoothed battery DC power the relay decision evaluates.",
		}),
		relayTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transitions_total",
			Help: "Total relay transitions by target state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.relayState,
		m.loadshedding,
		m.batterySOC,
		m.batteryDCPower,
		m.batteryDCPowerAvg,
		m.relayTransitions,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetRelayState(closed bool) {
	if m == nil {
		return
	}
	if closed {
		m.relayState.Set(1)
		m.relayTransitions.WithLabelValues("closed").Inc()
	} else {
		m.relayState.Set(0)
		m.relayTransitions.WithLabelValues("open").Inc()
	}
}

func (m *Metrics) SetLoadshedding(active bool) {
	if m == nil {
		return
	}
	if active {
		m.loadshedding.Set(1)
	} else {
		m.loadshedding.Set(0)
	}
}

func (m *Metrics) SetBatteryState(soc, dcPower, avgDCPower float64) {
	if m == nil {
		return
	}
	m.batterySOC.Set(soc)
	m.batteryDCPower.Set(dcPower)
	m.batteryDCPowerAvg.Set(avgDCPower)
}
