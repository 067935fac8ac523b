package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub batches run events. Zero values take the defaults.
type Config struct {
	// BufferSize bounds the events queued between Emit and delivery.
	BufferSize int
	// MaxBatchEvents delivers a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the oldest queued event waits for delivery.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each sink's Consume call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Hub defaults.
const (
	DefaultBufferSize     = 1024
	DefaultMaxBatchEvents = 100
	DefaultMaxBatchWait   = 250 * time.Millisecond
	DefaultSinkTimeout    = 5 * time.Second

	dropLogEvery = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = DefaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = DefaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = DefaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans run events out to sinks in batches. Every watched run emits into
// the same Hub, and Emit never blocks a poll loop: when the buffer is full
// the event is dropped and counted. A batch holding a RUN_TERMINAL event is
// delivered at once so run-finished notifications do not wait on the timer.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	in   chan Event
	stop chan struct{}
	done chan struct{}

	closing  atomic.Bool
	stopOnce sync.Once
	closeCtx context.Context

	dropped     atomic.Int64
	lastDropLog atomic.Int64
}

// NewHub starts the delivery goroutine for sinks and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: cfg.Logger,
		in:     make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Int64("run_id", evt.RunID), zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
	default:
		h.noteDrop(evt)
	}
}

// noteDrop counts a dropped event and logs the running total at most once
// per dropLogEvery.
func (h *Hub) noteDrop(evt Event) {
	h.dropped.Add(1)
	now := time.Now().UnixNano()
	last := h.lastDropLog.Load()
	if last != 0 && now-last < dropLogEvery.Nanoseconds() {
		return
	}
	if !h.lastDropLog.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped; sinks are not keeping up",
		zap.Int64("dropped", h.dropped.Swap(0)),
		zap.Int64("run_id", evt.RunID),
		zap.String("stage", string(evt.Stage)),
	)
}

// Close stops intake, delivers what is queued, closes the sinks and waits
// for the delivery goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batch is the set of events awaiting delivery. The timer is armed by the
// first event and runs until the batch is delivered.
type batch struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (b *batch) arm(d time.Duration) {
	if b.armed {
		return
	}
	b.timer.Reset(d)
	b.armed = true
}

func (b *batch) disarm() {
	b.timer.Stop()
	b.armed = false
}

func (h *Hub) loop() {
	defer close(h.done)
	b := &batch{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:  time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.timer.Stop()

	for {
		select {
		case evt := <-h.in:
			b.events = append(b.events, evt)
			if len(b.events) >= h.cfg.MaxBatchEvents || evt.Stage == StageRunTerminal {
				h.deliver(b)
				continue
			}
			b.arm(h.cfg.MaxBatchWait)
		case <-b.timer.C:
			b.armed = false
			h.deliver(b)
		case <-h.stop:
			h.drain(b)
			return
		}
	}
}

func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.in:
			b.events = append(b.events, evt)
			if len(b.events) >= h.cfg.MaxBatchEvents {
				h.deliver(b)
			}
		default:
			h.deliver(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) deliver(b *batch) {
	b.disarm()
	if len(b.events) == 0 {
		return
	}
	out := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := sink.Consume(ctx, out)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(out)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
