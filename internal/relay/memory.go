package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrDropped = errors.New("connection dropped")

// MemoryBroker is an in-process broker. It backs tests and the offline mode of
// the tracker CLI.
type MemoryBroker struct {
	mu          sync.Mutex
	conns       map[*memConn]struct{}
	failConnect int
	connects    int
	published   []Message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{conns: make(map[*memConn]struct{})}
}

func (b *MemoryBroker) Connect(ctx context.Context) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.failConnect > 0 {
		b.failConnect--
		return nil, fmt.Errorf("memory broker refused connection: %w", ErrDropped)
	}
	c := &memConn{
		broker: b,
		subs:   make(map[string]bool),
		inbox:  make(chan Message, 128),
		closed: make(chan struct{}),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// FailNextConnects makes the next n Connect calls fail.
func (b *MemoryBroker) FailNextConnects(n int) {
	b.mu.Lock()
	b.failConnect = n
	b.mu.Unlock()
}

// Connects returns how many connections were attempted.
func (b *MemoryBroker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Subscribers returns how many live connections are subscribed to channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.conns {
		c.mu.Lock()
		if c.subs[channel] {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Emit delivers an event to every connection subscribed to channel.
func (b *MemoryBroker) Emit(channel, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	msg := Message{Channel: channel, Event: event, Data: data}

	b.mu.Lock()
	var targets []*memConn
	for c := range b.conns {
		c.mu.Lock()
		if c.subs[channel] {
			targets = append(targets, c)
		}
		c.mu.Unlock()
	}
	b.mu.Unlock()

	for _, c := range targets {
		select {
		case c.inbox <- msg:
		case <-c.closed:
		}
	}
	return nil
}

// DropAll severs every live connection, as a network loss would.
func (b *MemoryBroker) DropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.shut()
		delete(b.conns, c)
	}
}

// Published returns the events published through the broker.
func (b *MemoryBroker) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

type memConn struct {
	broker *MemoryBroker
	mu     sync.Mutex
	subs   map[string]bool
	inbox  chan Message
	closed chan struct{}
	once   sync.Once
}

func (c *memConn) shut() {
	c.once.Do(func() { close(c.closed) })
}

func (c *memConn) Subscribe(_ context.Context, ch Channel) error {
	select {
	case <-c.closed:
		return ErrDropped
	default:
	}
	c.mu.Lock()
	c.subs[ch.Name] = true
	c.mu.Unlock()
	return nil
}

func (c *memConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return Message{}, ErrDropped
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *memConn) Publish(_ context.Context, ch Channel, event string, data any) error {
	select {
	case <-c.closed:
		return ErrDropped
	default:
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	c.broker.mu.Lock()
	c.broker.published = append(c.broker.published, Message{Channel: ch.Name, Event: event, Data: raw})
	c.broker.mu.Unlock()
	return nil
}

func (c *memConn) Close() error {
	c.shut()
	c.broker.mu.Lock()
	delete(c.broker.conns, c)
	c.broker.mu.Unlock()
	return nil
}
