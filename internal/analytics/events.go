// Package analytics ships raw impression, click, conversion and spend events
// to the analytics collector and keeps per-ad counters for reporting
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thenexusengine/adslot/internal/ads"
	"github.com/thenexusengine/adslot/internal/config"
	"github.com/thenexusengine/adslot/pkg/logger"
)

const (
	// flushWorkerCount is the number of concurrent delivery workers
	flushWorkerCount = 2
	// flushQueueSize is the max pending batches before new ones are dropped
	flushQueueSize = 10
	// flushTimeout bounds one batch delivery
	flushTimeout = 2 * time.Second
	// eventsPath is where the collector accepts batches
	eventsPath = "/api/events"
)

// EventType is the kind of raw counter event
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
	EventSpend      EventType = "spend"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventImpression, EventClick, EventConversion, EventSpend:
		return true
	}
	return false
}

// Event is one raw counter increment
type Event struct {
	Type         EventType `json:"event_type"`
	AdID         string    `json:"ad_id"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	AdvertiserID string    `json:"advertiser_id,omitempty"`
	AuctionID    string    `json:"auction_id,omitempty"`
	SlotType     string    `json:"slot_type,omitempty"`
	Position     int       `json:"position,omitempty"`
	DeviceType   string    `json:"device_type,omitempty"`
	Country      string    `json:"country,omitempty"`
	// Amount is spend for spend events and revenue for conversions
	Amount    float64   `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives delivered batches besides the collector
type Sink interface {
	Apply(ctx context.Context, events []Event) error
}

// MetricsRecorder receives recorder outcomes
type MetricsRecorder interface {
	RecordAnalyticsEvent(eventType string)
	RecordAnalyticsDropped(count int)
	RecordAnalyticsDelivery(success bool)
}

// RecorderConfig holds event recorder configuration
type RecorderConfig struct {
	// CollectorURL is the base URL of the analytics collector; "" disables HTTP delivery
	CollectorURL  string
	BufferSize    int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Breaker       *BreakerConfig
}

// DefaultRecorderConfig returns recorder defaults
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		BufferSize:    config.DefaultEventBufferSize,
		FlushInterval: config.AnalyticsFlushInterval,
		HTTPTimeout:   5 * time.Second,
		Breaker:       DefaultBreakerConfig(),
	}
}

// EventRecorder buffers events and delivers full batches on a bounded
// worker pool. When the queue is full batches are dropped, never blocked on.
type EventRecorder struct {
	collectorURL string
	httpClient   *http.Client
	breaker      *CircuitBreaker
	sink         Sink
	metrics      MetricsRecorder

	buffer     []Event
	bufferSize int
	mu         sync.Mutex

	flushQueue chan []Event
	queueMu    sync.RWMutex // guards sends against close of flushQueue
	closed     bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once

	droppedEvents  atomic.Int64
	droppedBatches atomic.Int64
	totalEvents    atomic.Int64
	queuedEvents   atomic.Int64
	failedBatches  atomic.Int64
}

// NewEventRecorder creates a recorder and starts its workers. sink may be nil.
func NewEventRecorder(cfg *RecorderConfig, sink Sink) *EventRecorder {
	if cfg == nil {
		cfg = DefaultRecorderConfig()
	}
	defaults := DefaultRecorderConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}

	r := &EventRecorder{
		collectorURL: strings.TrimRight(cfg.CollectorURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		breaker:      NewCircuitBreaker(cfg.Breaker),
		sink:         sink,
		buffer:       make([]Event, 0, cfg.BufferSize),
		bufferSize:   cfg.BufferSize,
		flushQueue:   make(chan []Event, flushQueueSize),
		stopCh:       make(chan struct{}),
	}

	for i := 0; i < flushWorkerCount; i++ {
		r.wg.Add(1)
		go r.flushWorker()
	}
	r.wg.Add(1)
	go r.ticker(cfg.FlushInterval)

	return r
}

// SetMetrics sets the metrics recorder. Call before recording.
func (r *EventRecorder) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// Breaker exposes the delivery circuit breaker
func (r *EventRecorder) Breaker() *CircuitBreaker {
	return r.breaker
}

func (r *EventRecorder) flushWorker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case batch, ok := <-r.flushQueue:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := r.deliver(ctx, batch); err != nil {
				logger.Analytics().Debug().Err(err).Int("events", len(batch)).Msg("event batch delivery failed")
			}
			cancel()
		}
	}
}

// ticker pushes partially filled buffers out on an interval
func (r *EventRecorder) ticker(interval time.Duration) {
	defer r.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.enqueue(r.swap())
		}
	}
}

// Record buffers one event. It never blocks on delivery.
func (r *EventRecorder) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	r.totalEvents.Add(1)
	if r.metrics != nil {
		r.metrics.RecordAnalyticsEvent(string(e.Type))
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, e)
	var full []Event
	if len(r.buffer) >= r.bufferSize {
		full = r.buffer
		r.buffer = make([]Event, 0, r.bufferSize)
	}
	r.mu.Unlock()

	r.enqueue(full)
}

// RecordImpressions records one impression per auction winner
func (r *EventRecorder) RecordImpressions(auctionID string, actx *ads.AuctionContext, winners []ads.BiddingResult) {
	for _, w := range winners {
		r.Record(Event{
			Type:         EventImpression,
			AdID:         w.AdID,
			CampaignID:   w.CampaignID,
			AdvertiserID: w.AdvertiserID,
			AuctionID:    auctionID,
			SlotType:     string(actx.SlotType),
			Position:     w.Position,
			DeviceType:   string(actx.DeviceType),
			Country:      actx.Country(),
		})
	}
}

func (r *EventRecorder) swap() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) == 0 {
		return nil
	}
	events := r.buffer
	r.buffer = make([]Event, 0, r.bufferSize)
	return events
}

func (r *EventRecorder) enqueue(batch []Event) {
	if len(batch) == 0 {
		return
	}
	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		r.dropped(len(batch))
		return
	}
	select {
	case r.flushQueue <- batch:
		r.queuedEvents.Add(int64(len(batch)))
	default:
		r.dropped(len(batch))
	}
}

func (r *EventRecorder) dropped(n int) {
	r.droppedEvents.Add(int64(n))
	r.droppedBatches.Add(1)
	if r.metrics != nil {
		r.metrics.RecordAnalyticsDropped(n)
	}
}

// deliver applies a batch to the sink and posts it to the collector
func (r *EventRecorder) deliver(ctx context.Context, batch []Event) error {
	var errs []string
	if r.sink != nil {
		if err := r.sink.Apply(ctx, batch); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if r.collectorURL != "" {
		err := r.breaker.Execute(func() error {
			return r.send(ctx, batch)
		})
		if r.metrics != nil {
			r.metrics.RecordAnalyticsDelivery(err == nil)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		r.failedBatches.Add(1)
		return fmt.Errorf("analytics: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (r *EventRecorder) send(ctx context.Context, events []Event) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.collectorURL+eventsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Flush delivers buffered events synchronously
func (r *EventRecorder) Flush(ctx context.Context) error {
	events := r.swap()
	if len(events) == 0 {
		return nil
	}
	return r.deliver(ctx, events)
}

// Close stops the workers and flushes what is still buffered. Batches still
// queued are delivered synchronously.
func (r *EventRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()

		r.queueMu.Lock()
		r.closed = true
		close(r.flushQueue)
		r.queueMu.Unlock()

		for batch := range r.flushQueue {
			if derr := r.deliver(ctx, batch); derr != nil {
				err = derr
			}
		}
		if ferr := r.Flush(ctx); ferr != nil {
			err = ferr
		}
		r.breaker.Close()
	})
	return err
}

// RecorderStats are counters for monitoring event loss
type RecorderStats struct {
	TotalEvents    int64 `json:"total_events"`
	QueuedEvents   int64 `json:"queued_events"`
	DroppedEvents  int64 `json:"dropped_events"`
	DroppedBatches int64 `json:"dropped_batches"`
	FailedBatches  int64 `json:"failed_batches"`
	BufferedEvents int   `json:"buffered_events"`
	PendingBatches int   `json:"pending_batches"`
	BreakerState   State `json:"breaker_state"`
}

// Stats returns current recorder counters
func (r *EventRecorder) Stats() RecorderStats {
	r.mu.Lock()
	buffered := len(r.buffer)
	r.mu.Unlock()

	return RecorderStats{
		TotalEvents:    r.totalEvents.Load(),
		QueuedEvents:   r.queuedEvents.Load(),
		DroppedEvents:  r.droppedEvents.Load(),
		DroppedBatches: r.droppedBatches.Load(),
		FailedBatches:  r.failedBatches.Load(),
		BufferedEvents: buffered,
		PendingBatches: len(r.flushQueue),
		BreakerState:   r.breaker.State(),
	}
}
