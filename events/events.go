// Package events publishes a feed of room activity to an external broker.
//
// The feed is fire-and-forget: Emit never blocks the caller, events that do
// not fit in the queue are dropped and counted, and nothing in the server ever
// reads the feed back.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Kind string

const (
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindDrawStart Kind = "draw-start"
	KindDrawEnd   Kind = "draw-end"
	KindUndo      Kind = "undo"
	KindRedo      Kind = "redo"
	KindClear     Kind = "clear"
)

const DefaultBuffer = 1024

var ErrPublisherClosed = errors.New("events: publisher closed")

type Event struct {
	Room        string    `msgpack:"room"`
	Kind        Kind      `msgpack:"kind"`
	UserID      string    `msgpack:"userId,omitempty"`
	OperationID *int      `msgpack:"operationId,omitempty"`
	At          time.Time `msgpack:"at"`
}

// Op is a helper for filling Event.OperationID.
func Op(id int) *int {
	return &id
}

func Encode(e Event) ([]byte, error) {
	return msgpack.Marshal(&e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	err := msgpack.Unmarshal(data, &e)
	return e, err
}

// Sink delivers one encoded event. key is the room id, so brokers that
// partition by key keep a room's events in order.
type Sink interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                   { return nil }

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type Publisher struct {
	sink  Sink
	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewPublisher(sink Sink, buffer int) *Publisher {
	if sink == nil {
		sink = Nop{}
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &Publisher{
		sink:  sink,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Emit queues e without blocking. A full queue drops the event.
func (p *Publisher) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}

	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.queue {
		payload, err := Encode(e)
		if err != nil {
			p.failed.Add(1)
			slog.Warn("event encode failed", "room", e.Room, "kind", e.Kind, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.sink.Publish(ctx, e.Room, payload)
		cancel()
		if err != nil {
			p.failed.Add(1)
			slog.Warn("event publish failed", "room", e.Room, "kind", e.Kind, "error", err)
			continue
		}
		p.published.Add(1)
	}
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops accepting events, drains the queue until ctx expires and closes
// the sink.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := p.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
