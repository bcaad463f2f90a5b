package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cdicache/internal/cdi"
	"github.com/nerrad567/cdicache/internal/infrastructure/influxdb"
	"github.com/nerrad567/cdicache/internal/infrastructure/mqtt"
)

// DefaultQueueSize bounds the number of reports waiting to be delivered.
const DefaultQueueSize = 256

// Publisher is satisfied by *mqtt.Client.
type Publisher interface {
	PublishEvent(topic string, payload []byte) error
}

// MetricsWriter is satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteRefresh(influxdb.RefreshSample)
	WriteInject(influxdb.InjectSample)
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// RefreshEvent is the JSON payload published after a refresh pass.
type RefreshEvent struct {
	Generation        uint64  `json:"generation"`
	Devices           int     `json:"devices"`
	Sources           int     `json:"sources"`
	UnreadableSources int     `json:"unreadable_sources"`
	LoadErrors        int     `json:"load_errors"`
	BuiltAt           string  `json:"built_at,omitempty"`
	DurationMS        float64 `json:"duration_ms"`
	Error             string  `json:"error,omitempty"`
	Timestamp         string  `json:"timestamp"`
}

// InjectEvent is the JSON payload published after an injection call.
type InjectEvent struct {
	Generation uint64   `json:"generation"`
	Requested  []string `json:"requested"`
	Injected   []string `json:"injected"`
	Unresolved []string `json:"unresolved,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	DurationMS float64  `json:"duration_ms"`
	Timestamp  string   `json:"timestamp"`
}

// Options configures a Dispatcher. Publisher and Metrics are both
// optional; a nil one is skipped.
type Options struct {
	Publisher Publisher
	Topics    mqtt.Topics
	Metrics   MetricsWriter
	Logger    Logger
	QueueSize int
}

// Dispatcher delivers cache reports to MQTT and InfluxDB off the cache's
// critical section.
type Dispatcher struct {
	publisher Publisher
	topics    mqtt.Topics
	metrics   MetricsWriter
	logger    Logger
	now       func() time.Time

	queue   chan func()
	dropped atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

var _ cdi.Observer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. Call Start before handing it to the
// cache and Close on shutdown.
func NewDispatcher(opts Options) *Dispatcher {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		publisher: opts.Publisher,
		topics:    opts.Topics,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan func(), size),
	}
}

// Start launches the delivery goroutine. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for deliver := range d.queue {
			deliver()
		}
	}()
}

// Close stops accepting reports and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return
	}
	d.wg.Wait()
}

// Dropped returns how many reports were discarded because the queue was
// full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// RefreshDone implements cdi.Observer.
func (d *Dispatcher) RefreshDone(r cdi.RefreshReport) {
	at := d.now()
	event := RefreshEvent{
		Generation:        r.Generation,
		Devices:           r.Devices,
		Sources:           r.Sources,
		UnreadableSources: r.UnreadableSources,
		LoadErrors:        r.LoadErrors,
		DurationMS:        millis(r.Duration),
		Timestamp:         at.UTC().Format(time.RFC3339Nano),
	}
	if !r.BuiltAt.IsZero() {
		event.BuiltAt = r.BuiltAt.UTC().Format(time.RFC3339Nano)
	}
	if r.Err != nil {
		event.Error = r.Err.Error()
	}
	sample := influxdb.RefreshSample{
		Generation:        r.Generation,
		Devices:           r.Devices,
		Sources:           r.Sources,
		UnreadableSources: r.UnreadableSources,
		LoadErrors:        r.LoadErrors,
		Duration:          r.Duration,
		Failed:            r.Err != nil,
		Time:              at,
	}

	d.enqueue(func() {
		d.publish(d.topics.RefreshEvent(), event)
		if d.metrics != nil {
			d.metrics.WriteRefresh(sample)
		}
	})
}

// InjectDone implements cdi.Observer. The report's slices are copied
// before the call returns.
func (d *Dispatcher) InjectDone(r cdi.InjectReport) {
	at := d.now()
	event := InjectEvent{
		Generation: r.Generation,
		Requested:  slices.Clone(r.Requested),
		Injected:   slices.Clone(r.Injected),
		Unresolved: slices.Clone(r.Unresolved),
		Failed:     slices.Clone(r.Failed),
		DurationMS: millis(r.Duration),
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
	}
	sample := influxdb.InjectSample{
		Generation: r.Generation,
		Requested:  len(r.Requested),
		Injected:   len(r.Injected),
		Unresolved: len(r.Unresolved),
		Failed:     len(r.Failed),
		Duration:   r.Duration,
		Time:       at,
	}

	d.enqueue(func() {
		d.publish(d.topics.InjectEvent(), event)
		if d.metrics != nil {
			d.metrics.WriteInject(sample)
		}
	})
}

func (d *Dispatcher) enqueue(deliver func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- deliver:
	default:
		d.dropped.Add(1)
		d.logger.Warn("event queue full, dropping cache report", "dropped_total", d.dropped.Load())
	}
}

func (d *Dispatcher) publish(topic string, event any) {
	if d.publisher == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Warn("encoding cache event", "topic", topic, "error", err)
		return
	}
	if err := d.publisher.PublishEvent(topic, payload); err != nil {
		d.logger.Warn("publishing cache event", "topic", topic, "error", err)
		return
	}
	d.logger.Debug("cache event published", "topic", topic)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
