// Package metrics instruments the realtime event pipeline with
// Prometheus collectors. The admin API reads them back through
// Snapshot; the exposition endpoint scrapes them through Gather.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	namespace = "realtime"
	typeLabel = "type"
)

// maxTracker keeps the largest observed value. Prometheus histograms
// carry count and sum but not max.
type maxTracker struct {
	v atomic.Int64
}

func (m *maxTracker) observe(x int64) {
	for {
		cur := m.v.Load()
		if x <= cur {
			return
		}
		if m.v.CompareAndSwap(cur, x) {
			return
		}
	}
}

// instruments is one generation of collectors. Reset swaps the whole
// generation because Prometheus counters cannot go backwards.
type instruments struct {
	registry *prometheus.Registry

	received  prometheus.Counter
	processed prometheus.Counter
	delivered prometheus.Counter
	failed    prometheus.Counter
	filtered  prometheus.Counter
	limited   prometheus.Counter
	persisted prometheus.Counter
	offline   prometheus.Counter

	byType *prometheus.CounterVec

	size       prometheus.Histogram
	latency    prometheus.Histogram
	processing prometheus.Histogram

	sizeMax       maxTracker
	latencyMax    maxTracker
	processingMax maxTracker
}

func newInstruments() *instruments {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	inst := &instruments{
		registry:  prometheus.NewRegistry(),
		received:  counter("events_received_total", "Events admitted into the pipeline."),
		processed: counter("events_processed_total", "Events that completed the process stage."),
		delivered: counter("events_delivered_total", "Successful broadcasts."),
		failed:    counter("events_failed_total", "Failed or dropped deliveries."),
		filtered:  counter("events_filtered_total", "Events suppressed by delivery policy."),
		limited:   counter("events_rate_limited_total", "Events rejected by the rate limiter."),
		persisted: counter("events_persisted_total", "Events written to history."),
		offline:   counter("events_offline_stored_total", "Events queued for offline users."),
		byType: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_by_type_total",
			Help:      "Events admitted, by event type.",
		}, []string{typeLabel}),
		size: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_size_bytes",
			Help:      "Payload size of admitted events.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_ms",
			Help:      "Queue-to-broadcast latency in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_time_ms",
			Help:      "Process-stage duration in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	inst.registry.MustRegister(
		inst.received, inst.processed, inst.delivered, inst.failed,
		inst.filtered, inst.limited, inst.persisted, inst.offline,
		inst.byType, inst.size, inst.latency, inst.processing,
	)
	return inst
}

// Collector accumulates pipeline metrics. All methods are safe for
// concurrent use.
type Collector struct {
	mu   sync.RWMutex
	inst *instruments

	startedAt time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		inst:      newInstruments(),
		startedAt: time.Now(),
	}
}

func (c *Collector) instruments() *instruments {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inst
}

// Gather implements prometheus.Gatherer over the current instrument
// generation, so the exposition endpoint survives Reset.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	return c.instruments().registry.Gather()
}

// EventReceived records an admitted inbound event of the given type
// and payload size.
func (c *Collector) EventReceived(eventType string, sizeBytes int) {
	inst := c.instruments()
	inst.received.Inc()
	inst.byType.WithLabelValues(eventType).Inc()
	inst.size.Observe(float64(sizeBytes))
	inst.sizeMax.observe(int64(sizeBytes))
}

// EventProcessed records a completed pipeline pass and its duration.
func (c *Collector) EventProcessed(took time.Duration) {
	inst := c.instruments()
	inst.processed.Inc()
	inst.processing.Observe(float64(took.Milliseconds()))
	inst.processingMax.observe(took.Milliseconds())
}

// DeliverySucceeded records one successful broadcast and its latency.
func (c *Collector) DeliverySucceeded(latency time.Duration) {
	inst := c.instruments()
	inst.delivered.Inc()
	inst.latency.Observe(float64(latency.Milliseconds()))
	inst.latencyMax.observe(latency.Milliseconds())
}

// DeliveryFailed records one failed broadcast.
func (c *Collector) DeliveryFailed() {
	c.instruments().failed.Inc()
}

// EventFiltered records an event suppressed by delivery policy.
func (c *Collector) EventFiltered() {
	c.instruments().filtered.Inc()
}

// RateLimited records an event rejected by the rate limiter.
func (c *Collector) RateLimited() {
	c.instruments().limited.Inc()
}

// EventPersisted records an event written to history.
func (c *Collector) EventPersisted() {
	c.instruments().persisted.Inc()
}

// OfflineStored records an event queued for an offline user.
func (c *Collector) OfflineStored() {
	c.instruments().offline.Inc()
}

// DistributionStats is a point-in-time summary of a distribution.
type DistributionStats struct {
	Count int64   `json:"count"`
	Sum   int64   `json:"sum"`
	Max   int64   `json:"max"`
	Avg   float64 `json:"avg"`
}

// Snapshot is a point-in-time view of all collected metrics.
type Snapshot struct {
	EventsReceived  int64 `json:"eventsReceived"`
	EventsProcessed int64 `json:"eventsProcessed"`
	EventsDelivered int64 `json:"eventsDelivered"`
	EventsFailed    int64 `json:"eventsFailed"`
	EventsFiltered  int64 `json:"eventsFiltered"`
	RateLimited     int64 `json:"rateLimited"`
	Persisted       int64 `json:"persisted"`
	OfflineStored   int64 `json:"offlineStored"`

	// DeliverySuccessRate is delivered / received as a percentage, so
	// filtered and dropped events count against it. With nothing
	// received it reports 100.
	DeliverySuccessRate float64 `json:"deliverySuccessRate"`

	EventsByType map[string]int64 `json:"eventsByType"`

	EventSizeBytes    DistributionStats `json:"eventSizeBytes"`
	DeliveryLatencyMS DistributionStats `json:"deliveryLatencyMs"`
	ProcessingTimeMS  DistributionStats `json:"processingTimeMs"`

	UptimeSeconds int64 `json:"uptimeSeconds"`
}

// Snapshot returns a consistent point-in-time view.
func (c *Collector) Snapshot() Snapshot {
	inst := c.instruments()
	snap := Snapshot{
		EventsReceived:  counterValue(inst.received),
		EventsProcessed: counterValue(inst.processed),
		EventsDelivered: counterValue(inst.delivered),
		EventsFailed:    counterValue(inst.failed),
		EventsFiltered:  counterValue(inst.filtered),
		RateLimited:     counterValue(inst.limited),
		Persisted:       counterValue(inst.persisted),
		OfflineStored:   counterValue(inst.offline),
		UptimeSeconds:   int64(time.Since(c.startedAt).Seconds()),
	}

	if snap.EventsReceived > 0 {
		snap.DeliverySuccessRate = float64(snap.EventsDelivered) / float64(snap.EventsReceived) * 100
	} else {
		snap.DeliverySuccessRate = 100
	}

	snap.EventsByType = byTypeCounts(inst)
	snap.EventSizeBytes = histogramStats(inst.size, &inst.sizeMax)
	snap.DeliveryLatencyMS = histogramStats(inst.latency, &inst.latencyMax)
	snap.ProcessingTimeMS = histogramStats(inst.processing, &inst.processingMax)
	return snap
}

// Reset discards all collected values by swapping in a fresh
// instrument generation.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.inst = newInstruments()
	c.mu.Unlock()
}

func counterValue(counter prometheus.Counter) int64 {
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

func histogramStats(h prometheus.Histogram, max *maxTracker) DistributionStats {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return DistributionStats{}
	}
	hist := m.GetHistogram()
	stats := DistributionStats{
		Count: int64(hist.GetSampleCount()),
		Sum:   int64(hist.GetSampleSum()),
		Max:   max.v.Load(),
	}
	if stats.Count > 0 {
		stats.Avg = hist.GetSampleSum() / float64(stats.Count)
	}
	return stats
}

func byTypeCounts(inst *instruments) map[string]int64 {
	counts := make(map[string]int64)
	families, err := inst.registry.Gather()
	if err != nil {
		return counts
	}
	for _, family := range families {
		if family.GetName() != namespace+"_events_by_type_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == typeLabel {
					counts[label.GetValue()] = int64(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return counts
}
