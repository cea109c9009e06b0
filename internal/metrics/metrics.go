// Package metrics exposes Prometheus counters/gauges for the stack,
// grounded on github.com/prometheus/client_golang usage patterns from the
// m-lab-tcp-info and runZeroInc-* example repos (per-connection RTT/cwnd
// gauges and lifecycle counters). cmd/tcpstackd registers and serves these
// metrics; no package of the stack updates them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric this stack exports.
type Registry struct {
	ConnsOpened    prometheus.Counter
	ConnsClosed    prometheus.Counter
	ConnsReset     prometheus.Counter
	Retransmits    prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	FlowTableSize  *prometheus.GaugeVec
	CwndBytes      prometheus.Histogram
	SRTTMicros     prometheus.Histogram
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ConnsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "connections_opened_total",
			Help: "TCP connections that reached Established.",
		}),
		ConnsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "connections_closed_total",
			Help: "TCP connections that reached Closed via a graceful path.",
		}),
		ConnsReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "connections_reset_total",
			Help: "TCP connections torn down by RST.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "retransmits_total",
			Help: "Segments retransmitted by the RTX timer or fast retransmit.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "bytes_sent_total",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcpstack", Name: "bytes_received_total",
		}),
		FlowTableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tcpstack", Name: "flow_table_size",
			Help: "Current flow-table entry count, by core.",
		}, []string{"core"}),
		CwndBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcpstack", Name: "cwnd_bytes",
			Buckets: prometheus.ExponentialBuckets(1460, 2, 16),
		}),
		SRTTMicros: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tcpstack", Name: "srtt_microseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 16),
		}),
	}
	reg.MustRegister(r.ConnsOpened, r.ConnsClosed, r.ConnsReset, r.Retransmits,
		r.BytesSent, r.BytesReceived, r.FlowTableSize, r.CwndBytes, r.SRTTMicros)
	return r
}
