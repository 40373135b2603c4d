// Package feedback is the pipeline's one-way event channel: components
// publish what happened (segments cut, results ready, backends failing,
// shutdown complete) and presentation layers subscribe without the pipeline
// ever holding a reference back to them.
package feedback

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies what kind of event was published.
type EventType string

const (
	// Recognition events
	EventResultReady       EventType = "recognition.result_ready"
	EventResultForDisplay  EventType = "recognition.result_for_display"
	EventMergedResultReady EventType = "recognition.merged_result_ready"
	EventBackendFailed     EventType = "recognition.backend_failed"

	// Audio events
	EventAudioSegmented EventType = "audio.segmented"

	// EventProcessingStopped fires once after Stop has drained the pipeline:
	// the handler flushed its final segment, the worker pool drained, and the
	// merger emitted everything it could. See AudioProcessor.StopProcessing.
	EventProcessingStopped EventType = "processing.fully_stopped"
)

// Event is one published occurrence, stamped at publish time.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      interface{}
}

// ResultReadyData carries one backend's raw result before merging.
type ResultReadyData struct {
	SequenceNumber int64
	Text           string
	Backend        string
	ProcessTime    time.Duration
}

// ResultForDisplayData carries one result's bare text for immediate display,
// ahead of the merger's ordered emission.
type ResultForDisplayData struct {
	Text string
}

// MergedResultData carries an ordered, merged batch of results.
type MergedResultData struct {
	Text            string
	SequenceNumbers []int64
	LastEmitted     int64
}

// BackendFailedData describes a recognition request that exhausted retries.
type BackendFailedData struct {
	SequenceNumber int64
	Backend        string
	Err            string
}

// AudioSegmentedData announces a newly emitted segment.
type AudioSegmentedData struct {
	SequenceNumber uint64
	FilePath       string
	DurationMs     float64
	IsLast         bool
}

// EventHandler receives events on the bus's dispatch goroutine. Handlers
// run sequentially in publish order; a slow handler delays later ones, so
// anything expensive should hand off to its own goroutine.
type EventHandler func(event Event)

// subscription is one registered handler. With all set it receives every
// event type; otherwise only events whose type equals filter.
type subscription struct {
	filter  EventType
	all     bool
	handler EventHandler
}

// EventBus fans published events out to subscribers. Publish never blocks:
// when the buffer is full the event is dropped and logged. Subscriptions
// are keyed by token, and the closure returned at registration is the only
// way to remove one.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewEventBus creates a bus buffering up to bufferSize undelivered events
// and starts its dispatch goroutine.
func NewEventBus(bufferSize int) *EventBus {
	b := &EventBus{
		subs:   make(map[uint64]subscription),
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a handler for one event type and returns the
// function that removes the subscription.
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	return b.register(subscription{filter: eventType, handler: handler})
}

// SubscribeAll registers a handler for every event type and returns the
// function that removes the subscription.
func (b *EventBus) SubscribeAll(handler EventHandler) func() {
	return b.register(subscription{all: true, handler: handler})
}

func (b *EventBus) register(sub subscription) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish stamps and enqueues an event without blocking the caller; a full
// buffer drops the event.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.events <- event:
	default:
		logrus.WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("event dropped, bus buffer full")
	}
}

// dispatch delivers events in publish order until Stop, then drains
// whatever is still buffered before exiting.
func (b *EventBus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.events:
			b.deliver(event)
		case <-b.done:
			for {
				select {
				case event := <-b.events:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver invokes every matching handler sequentially, isolating panics so
// one broken subscriber cannot take down the dispatch loop.
func (b *EventBus) deliver(event Event) {
	b.mu.RLock()
	matched := make([]EventHandler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.filter == event.Type {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range matched {
		b.invoke(handler, event)
	}
}

func (b *EventBus) invoke(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("event handler panic")
		}
	}()
	handler(event)
}

// Stop shuts the bus down after delivering everything already buffered.
func (b *EventBus) Stop() {
	close(b.done)
	b.wg.Wait()
}

// PublishResultReady publishes one backend's raw, unmerged result.
func (b *EventBus) PublishResultReady(sessionID string, data ResultReadyData) {
	b.Publish(Event{
		Type:      EventResultReady,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishResultForDisplay publishes a result's bare text for a UI that shows
// interim lines before the merger reorders them.
func (b *EventBus) PublishResultForDisplay(sessionID string, text string) {
	b.Publish(Event{
		Type:      EventResultForDisplay,
		SessionID: sessionID,
		Data:      ResultForDisplayData{Text: text},
	})
}

// PublishMergedResult publishes an ordered, merged result batch.
func (b *EventBus) PublishMergedResult(sessionID string, data MergedResultData) {
	b.Publish(Event{
		Type:      EventMergedResultReady,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishBackendFailed publishes a request that exhausted its retries.
func (b *EventBus) PublishBackendFailed(sessionID string, data BackendFailedData) {
	b.Publish(Event{
		Type:      EventBackendFailed,
		SessionID: sessionID,
		Data:      data,
	})
}

// PublishAudioSegmented publishes a newly emitted segment.
func (b *EventBus) PublishAudioSegmented(sessionID string, data AudioSegmentedData) {
	b.Publish(Event{
		Type:      EventAudioSegmented,
		SessionID: sessionID,
		Data:      data,
	})
}
