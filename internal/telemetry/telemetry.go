package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric is one recorded sample
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers samples in memory and flushes them to the log.
type Collector struct {
	mu       sync.Mutex
	metrics  []Metric
	enabled  bool
	interval time.Duration
	flushCh  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a collector. When enabled and interval is positive, samples are
// flushed in the background every interval until Shutdown.
func NewCollector(enabled bool, interval time.Duration) *Collector {
	c := &Collector{
		enabled:  enabled,
		interval: interval,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if enabled && interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.periodicFlush(ctx)
	} else {
		close(c.done)
	}
	return c
}

// Counter adds a counter sample
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.add(Metric{Name: name, Type: Counter, Value: value, Labels: labels})
}

// Gauge adds a gauge sample
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.add(Metric{Name: name, Type: Gauge, Value: value, Labels: labels})
}

// Timer records a duration in milliseconds
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.add(Metric{Name: name, Type: Timer, Value: float64(duration.Milliseconds()), Labels: labels, Unit: "ms"})
}

func (c *Collector) add(metric Metric) {
	if !c.enabled {
		return
	}
	metric.Timestamp = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, metric)

	if len(c.metrics) >= 100 {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// GetMetrics returns a copy of the buffered samples
func (c *Collector) GetMetrics() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Metric, len(c.metrics))
	copy(result, c.metrics)
	return result
}

// FlushMetrics drains the buffer into the log and returns how many samples were written.
func (c *Collector) FlushMetrics() int {
	c.mu.Lock()
	metrics := c.metrics
	c.metrics = nil
	c.mu.Unlock()

	for _, metric := range metrics {
		log.Info().
			Str("name", metric.Name).
			Str("type", string(metric.Type)).
			Float64("value", metric.Value).
			Str("unit", metric.Unit).
			Interface("labels", metric.Labels).
			Time("timestamp", metric.Timestamp).
			Msg("telemetry_metric")
	}
	return len(metrics)
}

func (c *Collector) periodicFlush(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.FlushMetrics()
		case <-c.flushCh:
			c.FlushMetrics()
		}
	}
}

// Shutdown stops background flushing and writes whatever is left.
func (c *Collector) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	if n := c.FlushMetrics(); n > 0 {
		log.Debug().Int("count", n).Msg("Flushed telemetry metrics")
	}
}
