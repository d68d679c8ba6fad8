// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics: a thread-safe snapshot map fed from scheduler threads, and
// a Prometheus collector reading the same counters on scrape.

package control

import (
	"strconv"
	"sync"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Publish stores a per-thread snapshot under "thread.<id>.<counter>" keys,
// plus runtime-wide totals.
func (mr *MetricsRegistry) Publish(stats []api.ThreadStats) {
	var fibers int64
	var dispatched uint64
	mr.mu.Lock()
	for _, s := range stats {
		p := "thread." + strconv.Itoa(s.ID) + "."
		mr.metrics[p+"fibers"] = s.Fibers
		mr.metrics[p+"ceiling"] = s.Ceiling
		mr.metrics[p+"run"] = s.Run
		mr.metrics[p+"idle"] = s.Idle
		mr.metrics[p+"locked"] = s.Locked
		mr.metrics[p+"dispatched"] = s.Dispatched
		mr.metrics[p+"timeouts"] = s.Timeouts
		mr.metrics[p+"overloads"] = s.Overloads
		mr.metrics[p+"pending"] = s.Pending
		mr.metrics[p+"ready"] = s.Ready
		fibers += s.Fibers
		dispatched += s.Dispatched
	}
	mr.metrics["fibers"] = fibers
	mr.metrics["dispatched"] = dispatched
	mr.metrics["threads"] = len(stats)
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated returns the time of the last write.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// Collector exports api.ThreadStats as Prometheus metrics, one series per
// scheduler thread.
type Collector struct {
	src api.StatsSource

	fibers     *prometheus.Desc
	ceiling    *prometheus.Desc
	run        *prometheus.Desc
	idle       *prometheus.Desc
	locked     *prometheus.Desc
	dispatched *prometheus.Desc
	timeouts   *prometheus.Desc
	overloads  *prometheus.Desc
	pending    *prometheus.Desc
	ready      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading src on every scrape.
func NewCollector(namespace string, src api.StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "thread", name),
			help,
			[]string{"thread"},
			nil,
		)
	}
	return &Collector{
		src:        src,
		fibers:     desc("fibers", "Fibers currently owned by the scheduler thread."),
		ceiling:    desc("fiber_ceiling", "Admission limiter ceiling."),
		run:        desc("run_seconds_total", "Time spent executing fibers."),
		idle:       desc("idle_seconds_total", "Time spent blocked in the readiness multiplexer."),
		locked:     desc("locked_seconds_total", "Time fibers spent waiting on mutexes."),
		dispatched: desc("dispatched_total", "Fiber activations performed by the loop."),
		timeouts:   desc("timeouts_total", "Suspensions resolved by deadline expiry."),
		overloads:  desc("overloads_total", "Spawns refused by the admission limiter."),
		pending:    desc("pending_items", "Suspended items waiting on a deadline or readiness."),
		ready:      desc("ready_items", "Resolved items queued for activation."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fibers
	ch <- c.ceiling
	ch <- c.run
	ch <- c.idle
	ch <- c.locked
	ch <- c.dispatched
	ch <- c.timeouts
	ch <- c.overloads
	ch <- c.pending
	ch <- c.ready
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.ThreadStats() {
		id := strconv.Itoa(s.ID)
		ch <- prometheus.MustNewConstMetric(c.fibers, prometheus.GaugeValue, float64(s.Fibers), id)
		ch <- prometheus.MustNewConstMetric(c.ceiling, prometheus.GaugeValue, float64(s.Ceiling), id)
		ch <- prometheus.MustNewConstMetric(c.run, prometheus.CounterValue, s.Run.Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.CounterValue, s.Idle.Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.locked, prometheus.CounterValue, s.Locked.Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(s.Dispatched), id)
		ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts), id)
		ch <- prometheus.MustNewConstMetric(c.overloads, prometheus.CounterValue, float64(s.Overloads), id)
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending), id)
		ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, float64(s.Ready), id)
	}
}
