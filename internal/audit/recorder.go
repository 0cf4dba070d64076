package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Recorder buffers audit events and hands them to a Publisher from a fixed
// set of workers. Record never blocks: when the buffer is full the event is
// dropped and counted.
type Recorder struct {
	publisher Publisher
	events    chan Event
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64

	mBufferLen prometheus.Gauge
	mBufferCap prometheus.Gauge
	mPublished prometheus.Counter
	mDropped   prometheus.Counter
	mFailed    prometheus.Counter
}

// NewRecorder starts workers goroutines draining a buffer of bufferSize events.
func NewRecorder(publisher Publisher, bufferSize, workers int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	r := &Recorder{
		publisher: publisher,
		events:    make(chan Event, bufferSize),
		logger:    zap.L().Named("audit"),
		now:       time.Now,
		mBufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_buffer_len",
			Help: "Number of audit events waiting to be published.",
		}),
		mBufferCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_buffer_cap",
			Help: "Capacity of the audit event buffer.",
		}),
		mPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Audit events handed to the publisher successfully.",
		}),
		mDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events discarded because the buffer was full or closed.",
		}),
		mFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_failed_total",
			Help: "Audit events the publisher rejected.",
		}),
	}

	r.wg.Add(workers)
	for range workers {
		go r.run()
	}
	return r
}

// Record enqueues an event. It satisfies domain.AuditSink.
func (r *Recorder) Record(_ context.Context, entityType, entityID, action string, details map[string]any) {
	event := Event{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
		Timestamp:  r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(event, "recorder closed")
		return
	}

	select {
	case r.events <- event:
	default:
		r.drop(event, "buffer full")
	}
}

func (r *Recorder) drop(event Event, reason string) {
	r.dropped.Add(1)
	r.mDropped.Inc()
	r.logger.Warn("Dropping audit event",
		zap.String("reason", reason),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID),
		zap.String("action", event.Action),
	)
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for event := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := r.publisher.Publish(ctx, event)
		cancel()

		if err == nil {
			r.mPublished.Inc()
			continue
		}

		r.failed.Add(1)
		r.mFailed.Inc()
		r.logger.Error("Failed to publish audit event",
			zap.String("event_id", event.ID),
			zap.String("entity_type", event.EntityType),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}

// Dropped returns the number of events discarded without being published.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Failed returns the number of events the publisher rejected.
func (r *Recorder) Failed() uint64 {
	return r.failed.Load()
}

func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	r.mBufferLen.Describe(ch)
	r.mBufferCap.Describe(ch)
	r.mPublished.Describe(ch)
	r.mDropped.Describe(ch)
	r.mFailed.Describe(ch)
}

func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	r.mBufferLen.Set(float64(len(r.events)))
	r.mBufferCap.Set(float64(cap(r.events)))

	r.mBufferLen.Collect(ch)
	r.mBufferCap.Collect(ch)
	r.mPublished.Collect(ch)
	r.mDropped.Collect(ch)
	r.mFailed.Collect(ch)
}

// Close stops accepting events and waits for the buffer to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// check interfaces
var (
	_ prometheus.Collector = (*Recorder)(nil)
)
