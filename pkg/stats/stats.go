// Package stats records watcher metrics in a prometheus registry.
package stats

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
)

// Label names shared by watcher metrics.
const (
	LabelJob        = "job"
	LabelChain      = "chain"
	LabelProtocol   = "protocol"
	LabelCommitment = "commitment"
)

// DegradedMetric is 1 for every job whose loop has stopped.
const DegradedMetric = "watcher_degraded"

// StatRepository is the metrics sink shared by every watcher loop.
// Implementations must be safe for concurrent use.
type StatRepository interface {
	Count(id string, labels map[string]string, increase ...float64)
	Measure(id string, value float64, labels map[string]string)
	Report() (string, error)
}

// SetDegraded records whether the loop of job on chain has stopped.
func SetDegraded(repo StatRepository, job, chain string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1
	}
	repo.Measure(DegradedMetric, v, map[string]string{LabelJob: job, LabelChain: chain})
}

type collector struct {
	labels  []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
}

// PromStatRepository creates counters and gauges on first use. A metric id
// keeps the label names it was first used with.
type PromStatRepository struct {
	namespace string
	registry  *prometheus.Registry
	factory   promauto.Factory
	logger    *zap.Logger

	mu         sync.Mutex
	collectors map[string]*collector
}

var _ StatRepository = (*PromStatRepository)(nil)

// NewPromStatRepository returns a repository backed by a fresh registry
// that also carries the Go and process collectors.
func NewPromStatRepository(namespace string, logger *zap.Logger) *PromStatRepository {
	if namespace == "" {
		namespace = "xchain"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PromStatRepository{
		namespace:  namespace,
		registry:   reg,
		factory:    promauto.With(reg),
		logger:     logger.Named("stats"),
		collectors: make(map[string]*collector),
	}
}

// Registry returns the underlying registry, e.g. for promhttp.
func (r *PromStatRepository) Registry() *prometheus.Registry {
	return r.registry
}

// Count increments counter id by increase (1 when omitted).
func (r *PromStatRepository) Count(id string, labels map[string]string, increase ...float64) {
	delta := 1.0
	if len(increase) > 0 {
		delta = increase[0]
	}
	if delta < 0 {
		r.logger.Warn("ignoring negative counter increase", zap.String("metric", id), zap.Float64("increase", delta))
		return
	}
	c, ok := r.get(id, labels, true)
	if !ok {
		return
	}
	c.counter.With(labels).Add(delta)
}

// Measure sets gauge id to value.
func (r *PromStatRepository) Measure(id string, value float64, labels map[string]string) {
	c, ok := r.get(id, labels, false)
	if !ok {
		return
	}
	c.gauge.With(labels).Set(value)
}

// Report renders every metric of the registry in the text exposition format.
func (r *PromStatRepository) Report() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode metric %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// Value returns the current value of the counter or gauge id with exactly
// labels.
func (r *PromStatRepository) Value(id string, labels map[string]string) (float64, bool) {
	families, err := r.registry.Gather()
	if err != nil {
		return 0, false
	}
	name := r.namespace + "_" + id
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsEqual(m.GetLabel(), labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func (r *PromStatRepository) get(id string, labels map[string]string, counter bool) (*collector, bool) {
	names := labelNames(labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.collectors[id]; ok {
		if (c.counter != nil) != counter {
			r.logger.Warn("metric used as both counter and gauge", zap.String("metric", id))
			return nil, false
		}
		if strings.Join(c.labels, ",") != strings.Join(names, ",") {
			r.logger.Warn("metric used with different labels",
				zap.String("metric", id),
				zap.Strings("registered", c.labels),
				zap.Strings("got", names),
			)
			return nil, false
		}
		return c, true
	}

	if !model.IsValidMetricName(model.LabelValue(r.namespace + "_" + id)) {
		r.logger.Warn("invalid metric name", zap.String("metric", id))
		return nil, false
	}
	for _, n := range names {
		if !model.LabelName(n).IsValid() {
			r.logger.Warn("invalid label name", zap.String("metric", id), zap.String("label", n))
			return nil, false
		}
	}

	c := &collector{labels: names}
	if counter {
		c.counter = r.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: r.namespace,
			Name:      id,
			Help:      "Watcher counter " + id,
		}, names)
	} else {
		c.gauge = r.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Name:      id,
			Help:      "Watcher gauge " + id,
		}, names)
	}
	r.collectors[id] = c
	return c, true
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelsEqual(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(pairs) != len(labels) {
		return false
	}
	for _, p := range pairs {
		if v, ok := labels[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}
