// Package metrics exposes the session's live connections and transfer
// outcomes to prometheus.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"

	xdcc "github.com/simeonmiteff/go-xdcc"
)

type info struct {
	description *prometheus.Desc
	supplier    func(c *xdcc.Conn, labelValues []string) prometheus.Metric
}

type connEntry struct {
	fd     int
	labels []string
}

// ConnCollector is a prometheus collector sampling byte counters of the
// connections registered with it. Per-connection label values are given
// at Add time; the connection's fd is appended as the last label.
type ConnCollector struct {
	conns map[*xdcc.Conn]connEntry
	mu    sync.Mutex
	infos []info
}

func (t *ConnCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range t.infos {
		descs <- info.description
	}
}

func (t *ConnCollector) Collect(metrics chan<- prometheus.Metric) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn, entry := range t.conns {
		for _, info := range t.infos {
			metrics <- info.supplier(conn, entry.labels)
		}
	}
}

// Add registers conn under the given label values.
func (t *ConnCollector) Add(conn *xdcc.Conn, labels []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fd := netfd.GetFdFromConn(conn.Conn)
	t.conns[conn] = connEntry{
		fd:     fd,
		labels: append(labels, strconv.Itoa(fd)),
	}
}

// Remove drops conn from collection.
func (t *ConnCollector) Remove(conn *xdcc.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.conns, conn)
}

// NewConnCollector builds a collector under the given metric prefix.
// connectionLabels are known up front; values are provided when adding a
// connection. constLabels is meant for labels constant for the whole
// process.
func NewConnCollector(prefix string, connectionLabels []string, constLabels prometheus.Labels) *ConnCollector {
	t := ConnCollector{
		conns: make(map[*xdcc.Conn]connEntry),
	}
	labels := append(append([]string{}, connectionLabels...), "fd")

	t.infos = []info{
		{
			description: prometheus.NewDesc(prefix+"_recv_bytes",
				"Bytes received on the connection.", labels, constLabels),
			supplier: func(c *xdcc.Conn, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(t.infos[0].description,
					prometheus.GaugeValue, float64(c.RecvBytes), lv...)
			},
		},
		{
			description: prometheus.NewDesc(prefix+"_sent_bytes",
				"Bytes sent on the connection.", labels, constLabels),
			supplier: func(c *xdcc.Conn, lv []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(t.infos[1].description,
					prometheus.GaugeValue, float64(c.SentBytes), lv...)
			},
		},
		{
			description: prometheus.NewDesc(prefix+"_open_seconds",
				"Seconds since the connection was opened.", labels, constLabels),
			supplier: func(c *xdcc.Conn, lv []string) prometheus.Metric {
				age := time.Since(time.Unix(0, c.OpenedAt)).Seconds()
				return prometheus.MustNewConstMetric(t.infos[2].description,
					prometheus.GaugeValue, age, lv...)
			},
		},
	}
	return &t
}

// TransferResults counts handled offers by terminal state.
var TransferResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "xdcc_transfer_results_total",
	Help: "Handled DCC offers by terminal state.",
}, []string{"result"})
