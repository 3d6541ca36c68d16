package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

const DefaultQueueSize = 256

type SinkOption func(*AsyncSink)

// WithDropHandler is called for every alarm dropped on a full queue.
func WithDropHandler(fn func(Alarm)) SinkOption {
	return func(s *AsyncSink) {
		s.onDrop = fn
	}
}

// AsyncSink queues alarms for a background writer. Report never blocks: a
// full queue drops the alarm and counts it.
type AsyncSink struct {
	store   Store
	queue   chan Alarm
	dropped atomic.Uint64
	onDrop  func(Alarm)

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

func NewAsyncSink(store Store, size int, opts ...SinkOption) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}

	s := &AsyncSink{
		store: store,
		queue: make(chan Alarm, size),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()

	return s
}

func (s *AsyncSink) Report(ctx context.Context, alarm Alarm) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(alarm)
		return
	}

	select {
	case s.queue <- alarm:
	default:
		s.drop(alarm)
	}
}

// Dropped counts alarms that never reached the store.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting alarms and waits until the queue is written.
func (s *AsyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
	return nil
}

func (s *AsyncSink) drop(alarm Alarm) {
	s.dropped.Add(1)
	log.Warn().Str("request_id", alarm.RequestID).Str("check_type", alarm.CheckType).Msg("alarm dropped")
	if s.onDrop != nil {
		s.onDrop(alarm)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for alarm := range s.queue {
		if err := s.store.Log(context.Background(), alarm); err != nil {
			log.Error().Err(err).Str("request_id", alarm.RequestID).Msg("failed to store alarm")
		}
	}
}

// LogSink writes alarms to the process log only.
type LogSink struct{}

func (LogSink) Report(ctx context.Context, a Alarm) {
	ev := log.Info()
	if a.Action == "block" {
		ev = log.Warn()
	}
	ev.Str("request_id", a.RequestID).
		Str("kind", string(a.Kind)).
		Str("check_type", a.CheckType).
		Str("action", a.Action).
		Str("plugin", a.Plugin).
		Str("source", a.Source).
		RawJSON("params", paramsOrEmpty(a.Params)).
		Msg(a.Message)
}

// WithParam returns params with key set to value. Dotted keys address
// nested fields.
func WithParam(params json.RawMessage, key string, value any) json.RawMessage {
	out, err := sjson.SetBytes(paramsOrEmpty(params), key, value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to set alarm param")
		return params
	}
	return out
}

func paramsOrEmpty(params json.RawMessage) []byte {
	if len(params) == 0 {
		return []byte("{}")
	}
	return params
}
