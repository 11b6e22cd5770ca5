package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/stratagen/strata/pkg/trace"
)

// ErrPublisherStopped is returned by Publish after Shutdown.
var ErrPublisherStopped = errors.New("event publisher stopped")

// ErrBufferFull is returned by Publish when the buffer has no room.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventFilter determines if an event should be delivered to a subscriber.
type EventFilter func(event trace.Event) bool

// EventPublisher fans trace events out to subscriber sinks. In async mode a
// single goroutine delivers events in emission order. When the buffer is full
// step.event payloads are dropped and counted; run and step lifecycle events
// wait for room, since sinks release per-run state on them.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan envelope
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	done        chan struct{}
	stopped     atomic.Bool
	dropped     atomic.Uint64
	closeOnce   sync.Once
}

type subscriberEntry struct {
	sink   trace.Sink
	filter EventFilter
}

// envelope is either an event or a run abort, delivered in queue order.
type envelope struct {
	event trace.Event
	abort *abortNotice
	flush chan struct{}
}

type abortNotice struct {
	runID string
	err   error
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		done:   make(chan struct{}),
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan envelope, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Subscribe adds a sink. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(sink trace.Sink, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{sink: sink, filter: filter})
}

// Emit implements trace.Sink. Drops are counted, never reported to the run.
func (ep *EventPublisher) Emit(e trace.Event) {
	_ = ep.Publish(e)
}

// Publish queues an event for delivery to all subscribers. Only step.event
// may be dropped; other kinds block until there is room.
func (ep *EventPublisher) Publish(event trace.Event) error {
	if event.Kind == trace.KindStepEvent {
		return ep.enqueue(envelope{event: event})
	}
	return ep.enqueueBlocking(envelope{event: event})
}

// Abort notifies every subscriber implementing Aborter that a run failed,
// after all events queued before it were delivered.
func (ep *EventPublisher) Abort(runID string, err error) {
	_ = ep.enqueueBlocking(envelope{abort: &abortNotice{runID: runID, err: err}})
}

// Flush blocks until every event queued before the call was delivered.
func (ep *EventPublisher) Flush(ctx context.Context) error {
	if !ep.config.EnableAsync {
		return nil
	}
	ack := make(chan struct{})
	if err := ep.enqueueBlocking(envelope{flush: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events dropped because the buffer was full.
func (ep *EventPublisher) Dropped() uint64 {
	return ep.dropped.Load()
}

func (ep *EventPublisher) enqueue(env envelope) error {
	if ep.stopped.Load() {
		return ErrPublisherStopped
	}
	if !ep.config.EnableAsync {
		ep.deliver(env)
		return nil
	}

	select {
	case ep.buffer <- env:
		return nil
	case <-ep.done:
		return ErrPublisherStopped
	default:
		ep.dropped.Add(1)
		return ErrBufferFull
	}
}

// enqueueBlocking waits for buffer room; lifecycle events and control
// messages are never dropped.
func (ep *EventPublisher) enqueueBlocking(env envelope) error {
	if ep.stopped.Load() {
		return ErrPublisherStopped
	}
	if !ep.config.EnableAsync {
		ep.deliver(env)
		return nil
	}

	select {
	case ep.buffer <- env:
		return nil
	case <-ep.done:
		return ErrPublisherStopped
	}
}

// processEvents delivers queued envelopes until shutdown, then drains what
// is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case env := <-ep.buffer:
			ep.deliver(env)
		case <-ep.done:
			for {
				select {
				case env := <-ep.buffer:
					ep.deliver(env)
				default:
					return
				}
			}
		}
	}
}

// deliver hands an envelope to every matching subscriber in subscription
// order.
func (ep *EventPublisher) deliver(env envelope) {
	if env.flush != nil {
		close(env.flush)
		return
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if env.abort != nil {
			if a, ok := entry.sink.(Aborter); ok {
				a.Abort(env.abort.runID, env.abort.err)
			}
			continue
		}
		if entry.filter != nil && !entry.filter(env.event) {
			continue
		}
		entry.sink.Emit(env.event)
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.closeOnce.Do(func() {
		ep.stopped.Store(true)
		close(ep.done)
	})

	finished := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout: %w", ctx.Err())
	}
}

// FilterByKind creates a filter that only allows events of the given kinds.
func FilterByKind(kinds ...trace.Kind) EventFilter {
	set := make(map[trace.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	return func(event trace.Event) bool {
		return set[event.Kind]
	}
}

// FilterByStep creates a filter that only allows events of a specific step.
func FilterByStep(stepID string) EventFilter {
	return func(event trace.Event) bool {
		return event.StepID == stepID
	}
}
