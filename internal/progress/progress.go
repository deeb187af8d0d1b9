// Package progress carries progress notifications out of long-running
// operations. Operations publish Events to a Sink; displaying them is the
// subscriber's business.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Level classifies an event for display
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one progress notification
type Event struct {
	Time    time.Time
	Stage   string // "model", "embedding", "similarity", "rag"
	Level   Level
	Message string
	Current int
	Total   int
	// Entity names the affected part id or control pair, if any
	Entity string
}

// Sink receives progress events. Publish must not block the publisher for long.
type Sink interface {
	Publish(Event)
}

// Func adapts a plain function to a Sink
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

type nop struct{}

func (nop) Publish(Event) {}

// Nop discards every event
var Nop Sink = nop{}

// OrNop returns s, or Nop when s is nil
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop
	}
	return s
}

// Reporter stamps events for one stage
type Reporter struct {
	sink  Sink
	stage string
}

// NewReporter returns a Reporter publishing to sink under stage
func NewReporter(sink Sink, stage string) Reporter {
	return Reporter{sink: OrNop(sink), stage: stage}
}

func (r Reporter) publish(level Level, entity string, current, total int, msg string) {
	r.sink.Publish(Event{
		Time:    time.Now(),
		Stage:   r.stage,
		Level:   level,
		Message: msg,
		Current: current,
		Total:   total,
		Entity:  entity,
	})
}

func (r Reporter) Info(msg string) { r.publish(LevelInfo, "", 0, 0, msg) }

func (r Reporter) Step(current, total int, msg string) {
	r.publish(LevelInfo, "", current, total, msg)
}

func (r Reporter) Warn(entity, msg string) { r.publish(LevelWarn, entity, 0, 0, msg) }

func (r Reporter) Error(entity, msg string) { r.publish(LevelError, entity, 0, 0, msg) }

// ChannelSink is a bounded channel subscriber. When the buffer is full,
// events are dropped and counted instead of blocking the publisher.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
	closed  atomic.Bool
}

// NewChannelSink creates a ChannelSink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Publish(e Event) {
	if c.closed.Load() {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the channel
func (c *ChannelSink) Events() <-chan Event { return c.ch }

// Dropped returns the number of events discarded so far
func (c *ChannelSink) Dropped() int64 { return c.dropped.Load() }

// Close closes the channel. Publishing after Close only counts drops.
// Close must not race with an in-flight Publish; call it after the
// publishing operation has returned.
func (c *ChannelSink) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
}

// LogSink writes events to a slog logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink; nil uses the default logger
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "progress")
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Publish(e Event) {
	args := []any{"stage", e.Stage}
	if e.Total > 0 {
		args = append(args, "current", e.Current, "total", e.Total)
	}
	if e.Entity != "" {
		args = append(args, "entity", e.Entity)
	}
	switch e.Level {
	case LevelError:
		l.logger.Error(e.Message, args...)
	case LevelWarn:
		l.logger.Warn(e.Message, args...)
	default:
		l.logger.Info(e.Message, args...)
	}
}

// Multi fans an event out to every sink
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return Func(func(e Event) {
		for _, s := range live {
			s.Publish(e)
		}
	})
}

// Recorder keeps every event in memory; handy for tests and summaries
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given level were recorded
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Level == level {
			n++
		}
	}
	return n
}
