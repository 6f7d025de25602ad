// Package prometheus exposes engine metrics as Prometheus collectors.
//
// Collectors are created on first use. The label names of a metric are fixed by the tags of
// its first observation; later observations fill missing labels with "" and drop unknown ones.
package prometheus

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corda/corda-runtime-os-sub030/metrics"
)

const namespace = "corda"

var timingBuckets = []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10}

type collectors struct {
	registry prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	gauges     map[string]*vec[*prometheus.GaugeVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	c      T
	labels []string
}

type client struct {
	c    *collectors
	tags metrics.Tags
}

var _ metrics.Client = (*client)(nil)

// NewClient returns a metrics client registering its collectors with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewClient(registry prometheus.Registerer) *client {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &client{
		c: &collectors{
			registry:   registry,
			counters:   make(map[string]*vec[*prometheus.CounterVec]),
			gauges:     make(map[string]*vec[*prometheus.GaugeVec]),
			histograms: make(map[string]*vec[*prometheus.HistogramVec]),
		},
	}
}

func (c *client) Counter(name string, tags metrics.Tags, value int64) {
	tags = c.merge(tags)
	v := c.c.counter(metricName(name)+"_total", tags)
	if v == nil {
		return
	}

	v.c.With(labelValues(v.labels, tags)).Add(float64(value))
}

func (c *client) Distribution(name string, tags metrics.Tags, value float64) {
	tags = c.merge(tags)
	v := c.c.histogram(metricName(name), tags, prometheus.DefBuckets)
	if v == nil {
		return
	}

	v.c.With(labelValues(v.labels, tags)).Observe(value)
}

func (c *client) Gauge(name string, tags metrics.Tags, value int64) {
	tags = c.merge(tags)
	v := c.c.gauge(metricName(name), tags)
	if v == nil {
		return
	}

	v.c.With(labelValues(v.labels, tags)).Set(float64(value))
}

func (c *client) Timing(name string, tags metrics.Tags, duration time.Duration) {
	tags = c.merge(tags)
	v := c.c.histogram(metricName(name)+"_seconds", tags, timingBuckets)
	if v == nil {
		return
	}

	v.c.With(labelValues(v.labels, tags)).Observe(duration.Seconds())
}

func (c *client) WithTags(tags metrics.Tags) metrics.Client {
	return &client{c: c.c, tags: c.merge(tags)}
}

func (c *client) merge(tags metrics.Tags) metrics.Tags {
	if len(c.tags) == 0 {
		return tags
	}

	merged := make(metrics.Tags, len(c.tags)+len(tags))
	for k, v := range c.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}

	return merged
}

func (cs *collectors) counter(name string, tags metrics.Tags) *vec[*prometheus.CounterVec] {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if v, ok := cs.counters[name]; ok {
		return v
	}

	labels := labelNames(tags)
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: name}, labels)
	registered, ok := register(cs.registry, cv)
	if !ok {
		return nil
	}

	v := &vec[*prometheus.CounterVec]{c: registered, labels: labels}
	cs.counters[name] = v
	return v
}

func (cs *collectors) gauge(name string, tags metrics.Tags) *vec[*prometheus.GaugeVec] {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if v, ok := cs.gauges[name]; ok {
		return v
	}

	labels := labelNames(tags)
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: name}, labels)
	registered, ok := register(cs.registry, gv)
	if !ok {
		return nil
	}

	v := &vec[*prometheus.GaugeVec]{c: registered, labels: labels}
	cs.gauges[name] = v
	return v
}

func (cs *collectors) histogram(name string, tags metrics.Tags, buckets []float64) *vec[*prometheus.HistogramVec] {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if v, ok := cs.histograms[name]; ok {
		return v
	}

	labels := labelNames(tags)
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: name, Buckets: buckets}, labels)
	registered, ok := register(cs.registry, hv)
	if !ok {
		return nil
	}

	v := &vec[*prometheus.HistogramVec]{c: registered, labels: labels}
	cs.histograms[name] = v
	return v
}

// register registers c, reusing an identical collector registered earlier. Collectors that
// cannot be registered are dropped; metrics never fail the caller.
func register[T prometheus.Collector](registry prometheus.Registerer, c T) (T, bool) {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, true
			}
		}

		var zero T
		return zero, false
	}

	return c, true
}

func labelNames(tags metrics.Tags) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, metricName(k))
	}
	sort.Strings(names)

	return names
}

func labelValues(names []string, tags metrics.Tags) prometheus.Labels {
	labels := make(prometheus.Labels, len(names))
	for _, n := range names {
		labels[n] = ""
	}

	for k, v := range tags {
		k = metricName(k)
		if _, ok := labels[k]; ok {
			labels[k] = v
		}
	}

	return labels
}

var replacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")

// metricName maps a dotted metric key to a valid Prometheus name.
func metricName(name string) string {
	return replacer.Replace(name)
}
