package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
	err      error
	started  chan struct{}
	gate     chan struct{}
	closed   bool
}

func (s *recordingSink) Publish(ctx context.Context, key string, payload []byte) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestPublisher_Delivers(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher(sink, 8)

	p.Emit(Event{Room: "r1", Kind: KindJoin, UserID: "a"})
	p.Emit(Event{Room: "r1", Kind: KindUndo, OperationID: Op(0)})

	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, Stats{Published: 2}, p.Stats())
	assert.True(t, sink.closed)
	require.Len(t, sink.payloads, 2)
	assert.Equal(t, []string{"r1", "r1"}, sink.keys)

	e, err := Decode(sink.payloads[1])
	require.NoError(t, err)
	assert.Equal(t, KindUndo, e.Kind)
	require.NotNil(t, e.OperationID)
	assert.Equal(t, 0, *e.OperationID)
	assert.False(t, e.At.IsZero())
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{started: make(chan struct{}, 4), gate: make(chan struct{})}
	p := NewPublisher(sink, 1)

	p.Emit(Event{Room: "r1", Kind: KindDrawStart})
	<-sink.started
	p.Emit(Event{Room: "r1", Kind: KindDrawEnd})
	p.Emit(Event{Room: "r1", Kind: KindClear})

	close(sink.gate)
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, Stats{Published: 2, Dropped: 1}, p.Stats())
}

func TestPublisher_CountsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	p := NewPublisher(sink, 4)

	p.Emit(Event{Room: "r1", Kind: KindLeave})
	require.NoError(t, p.Close(context.Background()))

	assert.Equal(t, Stats{Failed: 1}, p.Stats())
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	p := NewPublisher(nil, 0)
	require.NoError(t, p.Close(context.Background()))

	p.Emit(Event{Room: "r1", Kind: KindJoin})

	assert.Equal(t, Stats{Dropped: 1}, p.Stats())
	assert.ErrorIs(t, p.Close(context.Background()), ErrPublisherClosed)
}

func TestKafkaSink_Publish(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	payload, err := Encode(Event{Room: "r1", Kind: KindClear})
	require.NoError(t, err)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		e, err := Decode(val)
		if err != nil {
			return err
		}
		if e.Kind != KindClear {
			return errors.New("unexpected kind " + string(e.Kind))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := newKafkaSink(producer, "drawsync")
	require.NoError(t, sink.Publish(context.Background(), "r1", payload))
	assert.ErrorIs(t, sink.Publish(context.Background(), "r1", payload), sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaSink_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	sink := newKafkaSink(producer, "drawsync")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Publish(ctx, "r1", []byte("x")), context.Canceled)
	require.NoError(t, sink.Close())
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTTClient struct {
	mqtt.Client
	topics       []string
	qos          []byte
	err          error
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	return newFakeToken(c.err)
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func TestMQTTSink_Publish(t *testing.T) {
	client := &fakeMQTTClient{}
	sink := newMQTTSink(client, "drawsync/rooms/")

	require.NoError(t, sink.Publish(context.Background(), "r1", []byte("x")))
	assert.Equal(t, []string{"drawsync/rooms/r1"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)

	client.err = errors.New("not connected")
	assert.Error(t, sink.Publish(context.Background(), "r2", []byte("x")))

	require.NoError(t, sink.Close())
	assert.True(t, client.disconnected)
}
