// Package metrics exports this stack's socket table as Prometheus series:
// a gauge of connections per TCP state, collected fresh on every scrape,
// plus counters for bytes sent/received, retransmits and illegal-sequence
// drops, updated as tcp.Conn operates via the hooks in Collector.Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juliusaf/usertcp/tcp"
)

// Collector is a prometheus.Collector over one tcp.Table. Register it with
// a prometheus.Registry and pass Collector.Metrics() to every tcp.Conn
// created against that table via Conn.SetMetrics.
type Collector struct {
	table *tcp.Table

	connsByState  *prometheus.Desc
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	retransmits   prometheus.Counter
	illegalDrops  prometheus.Counter
}

// NewCollector returns a Collector reporting on table, with every counter
// named under the usertcp_ prefix.
func NewCollector(table *tcp.Table) *Collector {
	return &Collector{
		table: table,
		connsByState: prometheus.NewDesc(
			"usertcp_connections",
			"Number of managed TCP connections currently in each state.",
			[]string{"state"}, nil,
		),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_bytes_sent_total",
			Help: "Total payload bytes handed to the network by Conn.Send.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_bytes_received_total",
			Help: "Total in-order payload bytes delivered to the receive queue.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_retransmits_total",
			Help: "Total segments re-sent by the RTO timer.",
		}),
		illegalDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usertcp_illegal_segments_total",
			Help: "Total inbound segments dropped for an unacceptable sequence number.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.connsByState
	c.bytesSent.Describe(descs)
	c.bytesReceived.Describe(descs)
	c.retransmits.Describe(descs)
	c.illegalDrops.Describe(descs)
}

// Collect implements prometheus.Collector: the state gauge is computed
// fresh from the live table on every scrape, the counters report their
// accumulated totals.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for state, n := range c.table.CountByState() {
		metrics <- prometheus.MustNewConstMetric(c.connsByState, prometheus.GaugeValue, float64(n), state.String())
	}
	c.bytesSent.Collect(metrics)
	c.bytesReceived.Collect(metrics)
	c.retransmits.Collect(metrics)
	c.illegalDrops.Collect(metrics)
}

// Metrics returns the *tcp.Metrics hook set that feeds this Collector's
// counters; pass it to every Conn.SetMetrics call for connections
// registered in this Collector's table.
func (c *Collector) Metrics() *tcp.Metrics {
	return &tcp.Metrics{
		BytesSent:      func(n int) { c.bytesSent.Add(float64(n)) },
		BytesReceived:  func(n int) { c.bytesReceived.Add(float64(n)) },
		Retransmit:     func() { c.retransmits.Inc() },
		IllegalSegment: func() { c.illegalDrops.Inc() },
	}
}
