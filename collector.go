package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Collector exposes a bus's registry and dispatcher state as
// Prometheus metrics, for hosts that run a Prometheus stack alongside
// (or instead of) OpenTelemetry.
type Collector struct {
	bus *Bus

	eventTypes    *prometheus.Desc
	subscriptions *prometheus.Desc
	subscribers   *prometheus.Desc
	stickyEvents  *prometheus.Desc
	queueDepth    *prometheus.Desc
}

// NewCollector builds a collector for the given bus. Register it with
// a prometheus.Registerer to scrape it.
func NewCollector(b *Bus) *Collector {
	return &Collector{
		bus: b,
		eventTypes: prometheus.NewDesc(
			"eventbus_event_types",
			"Number of event types with at least one subscription.",
			nil, prometheus.Labels{"bus": b.id}),
		subscriptions: prometheus.NewDesc(
			"eventbus_subscriptions",
			"Number of live subscriptions.",
			nil, prometheus.Labels{"bus": b.id}),
		subscribers: prometheus.NewDesc(
			"eventbus_subscribers",
			"Number of registered subscriber objects.",
			nil, prometheus.Labels{"bus": b.id}),
		stickyEvents: prometheus.NewDesc(
			"eventbus_sticky_events",
			"Number of cached sticky events.",
			nil, prometheus.Labels{"bus": b.id}),
		queueDepth: prometheus.NewDesc(
			"eventbus_dispatcher_queue_depth",
			"Pending posts per dispatcher queue.",
			[]string{"dispatcher"}, prometheus.Labels{"bus": b.id}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eventTypes
	ch <- c.subscriptions
	ch <- c.subscribers
	ch <- c.stickyEvents
	ch <- c.queueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	b := c.bus

	b.mu.Lock()
	types := len(b.subscriptionsByType)
	subs := 0
	for _, list := range b.subscriptionsByType {
		subs += len(list)
	}
	owners := len(b.typesBySubscriber)
	b.mu.Unlock()

	b.stickyMu.Lock()
	sticky := len(b.stickyEvents)
	b.stickyMu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.eventTypes, prometheus.GaugeValue, float64(types))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(subs))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(owners))
	ch <- prometheus.MustNewConstMetric(c.stickyEvents, prometheus.GaugeValue, float64(sticky))

	if b.mainPoster != nil {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue,
			float64(b.mainPoster.pending()), "main")
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue,
		float64(b.bgPoster.pending()), "background")
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue,
		float64(b.async.pending()), "async")
}

// RegisterCollector registers bus collectors with a registerer,
// aggregating per-collector failures. A nil registerer uses the
// Prometheus default.
func RegisterCollector(r prometheus.Registerer, buses ...*Bus) error {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	var err error
	for _, b := range buses {
		err = multierr.Append(err, r.Register(NewCollector(b)))
	}
	return err
}

var _ prometheus.Collector = (*Collector)(nil)
