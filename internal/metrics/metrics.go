// Package metrics exports values that components already track to a
// prometheus registry.
//
// Components do not own prometheus collectors. They implement Source and
// append their current values whenever the registry is scraped.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported metric name.
const Namespace = "rtr_relay"

// Kind is the prometheus type of a metric.
type Kind int

const (
	Counter Kind = iota
	Gauge
)

// Metric describes a value appended by a source.
type Metric struct {
	Name string
	Help string
	Kind Kind
}

func (m Metric) valueType() prometheus.ValueType {
	if m.Kind == Counter {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}

// Source is implemented by anything that has metrics to export.
type Source interface {
	// Append adds the current values for the named unit to target.
	Append(unitName string, target *Target)
}

// Target receives the values of one scrape.
type Target struct {
	descs *descCache
	ch    chan<- prometheus.Metric
}

// Append adds a single value labelled with the unit name.
func (t *Target) Append(metric Metric, unitName string, value float64) {
	desc := t.descs.get(metric)
	m, err := prometheus.NewConstMetric(desc, metric.valueType(), value, unitName)
	if err != nil {
		m = prometheus.NewInvalidMetric(desc, err)
	}
	t.ch <- m
}

type descCache struct {
	mu    sync.Mutex
	descs map[string]*prometheus.Desc
}

func (c *descCache) get(metric Metric) *prometheus.Desc {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.descs[metric.Name]; ok {
		return d
	}
	d := prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "", metric.Name),
		metric.Help,
		[]string{"component"},
		nil,
	)
	c.descs[metric.Name] = d
	return d
}

type registration struct {
	name   string
	source Source
}

// Collection holds all registered sources. It is a prometheus.Collector.
type Collection struct {
	mu      sync.RWMutex
	sources []registration
	descs   descCache
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		descs: descCache{descs: make(map[string]*prometheus.Desc)},
	}
}

// Register adds a source under the given unit name.
func (c *Collection) Register(name string, source Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, registration{name: name, source: source})
}

// Describe sends nothing. The set of metrics depends on the registered
// sources, so the collection is an unchecked collector.
func (c *Collection) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collection) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := make([]registration, len(c.sources))
	copy(sources, c.sources)
	c.mu.RUnlock()

	target := &Target{descs: &c.descs, ch: ch}
	for _, r := range sources {
		r.source.Append(r.name, target)
	}
}

var _ prometheus.Collector = (*Collection)(nil)
