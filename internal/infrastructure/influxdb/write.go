package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the cache daemon.
const (
	MeasurementRefresh = "cdi_refresh"
	MeasurementInject  = "cdi_inject"
)

// Values of the "result" tag.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultPartial = "partial"
)

// RefreshSample describes one refresh pass.
type RefreshSample struct {
	Generation        uint64
	Devices           int
	Sources           int
	UnreadableSources int
	LoadErrors        int
	Duration          time.Duration
	Failed            bool
	Time              time.Time
}

// InjectSample describes one injection call.
type InjectSample struct {
	Generation uint64
	Requested  int
	Injected   int
	Unresolved int
	Failed     int
	Duration   time.Duration
	Time       time.Time
}

// RefreshPoint converts s into a cdi_refresh point tagged with the pass
// result.
func RefreshPoint(s RefreshSample) *write.Point {
	result := ResultOK
	if s.Failed {
		result = ResultFailed
	}

	return write.NewPoint(
		MeasurementRefresh,
		map[string]string{"result": result},
		map[string]any{
			"generation":         s.Generation,
			"devices":            s.Devices,
			"sources":            s.Sources,
			"unreadable_sources": s.UnreadableSources,
			"load_errors":        s.LoadErrors,
			"duration_ms":        durationMillis(s.Duration),
		},
		timestamp(s.Time),
	)
}

// InjectPoint converts s into a cdi_inject point. The result tag is
// "partial" when any requested device was unresolved or failed.
func InjectPoint(s InjectSample) *write.Point {
	result := ResultOK
	if s.Unresolved > 0 || s.Failed > 0 {
		result = ResultPartial
	}

	return write.NewPoint(
		MeasurementInject,
		map[string]string{"result": result},
		map[string]any{
			"generation":  s.Generation,
			"requested":   s.Requested,
			"injected":    s.Injected,
			"unresolved":  s.Unresolved,
			"failed":      s.Failed,
			"duration_ms": durationMillis(s.Duration),
		},
		timestamp(s.Time),
	)
}

// WriteRefresh queues a refresh sample. Dropped silently when disconnected.
func (c *Client) WriteRefresh(s RefreshSample) {
	c.WritePoint(RefreshPoint(s))
}

// WriteInject queues an injection sample. Dropped silently when disconnected.
func (c *Client) WriteInject(s InjectSample) {
	c.WritePoint(InjectPoint(s))
}

// WritePoint queues an arbitrary point. The write is non-blocking; errors
// surface through SetOnError.
func (c *Client) WritePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
