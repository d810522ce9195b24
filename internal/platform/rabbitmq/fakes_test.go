package rabbitmq

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-memory stand-in for a RabbitMQ node. It keeps declared
// objects across connections the way a real broker does.
type fakeBroker struct {
	mu sync.Mutex

	dials     int
	failDials int // upcoming dials that fail
	refuseAll bool
	gate      chan struct{} // when set, Dial blocks until it is closed

	publishFailures int

	exchanges map[string]string
	queues    map[string]bool
	bindings  map[Binding]string
	published []publishedMsg
	consumes  int
	consumers map[string]*fakeConsumer
	conns     []*fakeConn
}

type publishedMsg struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeConsumer struct {
	ch         *fakeChannel
	deliveries chan amqp.Delivery
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: map[string]string{},
		queues:    map[string]bool{},
		bindings:  map[Binding]string{},
		consumers: map[string]*fakeConsumer{},
	}
}

func (b *fakeBroker) Dial(string) (Connection, error) {
	b.mu.Lock()
	b.dials++
	gate := b.gate
	fail := b.refuseAll || b.failDials > 0
	if b.failDials > 0 {
		b.failDials--
	}
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("dial tcp: connection refused")
	}

	c := &fakeConn{broker: b}
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	return c, nil
}

func (b *fakeBroker) setRefuseAll(refuse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuseAll = refuse
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) consumeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumes
}

func (b *fakeBroker) messages() []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMsg(nil), b.published...)
}

// drop simulates the broker forcibly closing every open connection.
func (b *fakeBroker) drop() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	reason := &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true}
	for _, c := range conns {
		c.shutdown(reason)
	}
}

// deliver pushes d to the current consumer of queue. It reports false when
// nobody is consuming.
func (b *fakeBroker) deliver(queue string, d amqp.Delivery) bool {
	b.mu.Lock()
	fc := b.consumers[queue]
	b.mu.Unlock()
	if fc == nil {
		return false
	}

	fc.ch.mu.Lock()
	defer fc.ch.mu.Unlock()
	if fc.ch.closed {
		return false
	}
	fc.deliveries <- d
	return true
}

type fakeConn struct {
	broker *fakeBroker

	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{broker: c.broker}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(n chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(n)
		return n
	}
	c.notify = append(c.notify, n)
	return n
}

func (c *fakeConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *fakeConn) shutdown(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	notify, channels := c.notify, c.channels
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(reason)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

type fakeChannel struct {
	broker *fakeBroker

	mu        sync.Mutex
	closed    bool
	notify    []chan *amqp.Error
	consumers []chan amqp.Delivery
}

func (ch *fakeChannel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type'"}
	}
	b.exchanges[name] = kind
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if ch.isClosed() {
		return amqp.Queue{}, amqp.ErrClosed
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.queues[name]; ok && existing != durable {
		return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'durable'"}
	}
	b.queues[name] = durable
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange '" + exchange + "'"}
	}
	b.bindings[Binding{Queue: name, Key: key}] = exchange
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (ch *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishFailures > 0 {
		b.publishFailures--
		return amqp.ErrClosed
	}
	b.published = append(b.published, publishedMsg{exchange: exchange, key: key, msg: msg})
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil, amqp.ErrClosed
	}
	d := make(chan amqp.Delivery, 16)
	ch.consumers = append(ch.consumers, d)
	ch.mu.Unlock()

	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queue + "'"}
	}
	b.consumes++
	b.consumers[queue] = &fakeConsumer{ch: ch, deliveries: d}
	return d, nil
}

func (ch *fakeChannel) NotifyClose(n chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		close(n)
		return n
	}
	ch.notify = append(ch.notify, n)
	return n
}

func (ch *fakeChannel) Close() error {
	ch.shutdown(nil)
	return nil
}

func (ch *fakeChannel) shutdown(reason *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	notify, consumers := ch.notify, ch.consumers
	ch.notify, ch.consumers = nil, nil
	for _, d := range consumers {
		close(d)
	}
	ch.mu.Unlock()

	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

// fakeAcknowledger records acknowledgements by delivery tag.
type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) acked() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...)
}
