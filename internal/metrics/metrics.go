package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors on their own registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Flows counts LTI flow outcomes by flow and outcome ("ok" or a reason).
	Flows *prometheus.CounterVec
	// RemoteCalls times JWKS, token endpoint and NRPS calls.
	RemoteCalls *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lti",
			Name:      "flow_total",
			Help:      "LTI flows handled, by flow and outcome.",
		}, []string{"flow", "outcome"}),
		RemoteCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lti",
			Name:      "remote_call_seconds",
			Help:      "Latency of calls to the platform, by host and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host", "status"}),
	}
	reg.MustRegister(m.Flows, m.RemoteCalls,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Flow(flow, outcome string) {
	m.Flows.WithLabelValues(flow, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentClient returns a copy of c whose requests are observed in
// RemoteCalls. A nil c yields a client with only the given timeout.
func (m *Metrics) InstrumentClient(c *http.Client, timeout time.Duration) *http.Client {
	out := &http.Client{Timeout: timeout}
	if c != nil {
		cp := *c
		out = &cp
	}
	next := out.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	out.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		res, err := next.RoundTrip(r)
		status := "error"
		if err == nil {
			status = strconv.Itoa(res.StatusCode/100) + "xx"
		}
		m.RemoteCalls.WithLabelValues(r.URL.Host, status).Observe(time.Since(start).Seconds())
		return res, err
	})
	return out
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
