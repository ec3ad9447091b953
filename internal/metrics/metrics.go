// Package metrics exports receiver and transmitter activity to Prometheus.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/jeongseonghan/tonemodem/internal/protocol"
)

const namespace = "tonemodem"

// Collector holds the modem metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	syncs         prometheus.Counter
	messages      *prometheus.CounterVec // label: pass
	invalid       prometheus.Counter
	erasures      prometheus.Counter
	corrected     prometheus.Counter
	overflows     prometheus.Counter
	dropped       prometheus.Counter
	synced        prometheus.Gauge
	syncScore     prometheus.Gauge
	transmissions prometheus.Counter
	txSamples     prometheus.Counter
}

// New creates a collector with all metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		syncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Preambles that moved the receiver to SYNCED",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Finalized messages by decode pass",
		}, []string{"pass"}),
		invalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_invalid_total",
			Help:      "Finalized messages that failed correction or checksum",
		}),
		erasures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "erasures_total",
			Help:      "Unrecognized symbols in finalized messages",
		}),
		corrected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrected_bytes_total",
			Help:      "Bytes rebuilt by error correction",
		}),
		overflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflows_total",
			Help:      "Unterminated messages dropped at the buffer limit",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_samples_total",
			Help:      "Samples discarded by overflows",
		}),
		synced: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synced",
			Help:      "1 while a message is in progress",
		}),
		syncScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_score",
			Help:      "Correlation score of the last synchronization event",
		}),
		transmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmissions_total",
			Help:      "Transmissions built",
		}),
		txSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmitted_samples_total",
			Help:      "Samples produced by the transmitter",
		}),
	}
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach chains the collector onto rx callbacks, keeping any callbacks
// already set. Call it before samples flow.
func (c *Collector) Attach(rx *protocol.Receiver) {
	prevMsg, prevState, prevOverflow := rx.OnMessage, rx.OnStateChange, rx.OnOverflow
	rx.OnMessage = func(msg protocol.Message) {
		c.ObserveMessage(msg)
		if prevMsg != nil {
			prevMsg(msg)
		}
	}
	rx.OnStateChange = func(state protocol.SyncState, score float64) {
		c.ObserveState(state, score)
		if prevState != nil {
			prevState(state, score)
		}
	}
	rx.OnOverflow = func(dropped int) {
		c.ObserveOverflow(dropped)
		if prevOverflow != nil {
			prevOverflow(dropped)
		}
	}
}

// ObserveMessage records a finalized message.
func (c *Collector) ObserveMessage(msg protocol.Message) {
	c.messages.WithLabelValues(msg.Pass.String()).Inc()
	if !msg.Valid {
		c.invalid.Inc()
	}
	c.erasures.Add(float64(len(msg.Erasures)))
	c.corrected.Add(float64(len(msg.Corrected)))
}

// ObserveState records a synchronizer transition.
func (c *Collector) ObserveState(state protocol.SyncState, score float64) {
	if state == protocol.StateSynced {
		c.syncs.Inc()
		c.synced.Set(1)
	} else {
		c.synced.Set(0)
	}
	c.syncScore.Set(score)
}

// ObserveOverflow records a dropped message.
func (c *Collector) ObserveOverflow(dropped int) {
	c.overflows.Inc()
	c.dropped.Add(float64(dropped))
}

// ObserveTransmission records a built transmission of n samples.
func (c *Collector) ObserveTransmission(n int) {
	c.transmissions.Inc()
	c.txSamples.Add(float64(n))
}

// Snapshot flattens the registry into name → value. Labelled series are
// keyed name_label_value.
func (c *Collector) Snapshot() (map[string]float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, m := range mf.GetMetric() {
			value, ok := metricValue(m)
			if !ok {
				continue
			}
			out[seriesKey(name, m.GetLabel())] = value
		}
	}
	return out, nil
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetHistogram() != nil:
		return m.GetHistogram().GetSampleSum(), true
	default:
		return 0, false
	}
}

func seriesKey(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"_"+l.GetValue())
	}
	sort.Strings(parts)
	return name + "_" + strings.Join(parts, "_")
}
