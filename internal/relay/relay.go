package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"resbac/internal/models"
)

// Handler consumes one event. A returned error is reported as a notice.
type Handler func(ctx context.Context, msg Message) error

type NoticeKind string

const (
	NoticeConnected    NoticeKind = "connected"
	NoticeDisconnected NoticeKind = "disconnected"
	NoticeSubscribe    NoticeKind = "subscribe_failed"
	NoticeHandler      NoticeKind = "handler_failed"
	NoticeDuplicate    NoticeKind = "duplicate"
)

// Notice is a tagged relay event for consumers that track connection health.
type Notice struct {
	Kind    NoticeKind
	Channel string
	Event   string
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

type Config struct {
	Backoff Backoff
	// HealthyAfter resets the backoff once a connection has lived this long.
	HealthyAfter time.Duration
	DedupeSize   int
	QueueSize    int
}

func DefaultConfig() Config {
	return Config{
		Backoff:      DefaultBackoff(),
		HealthyAfter: 10 * time.Second,
		DedupeSize:   256,
		QueueSize:    64,
	}
}

type subscription struct {
	ch       Channel
	handlers map[string][]Handler
	queue    chan Message
}

// Relay keeps a broker connection alive and dispatches events to handlers.
// Dispatch is FIFO per channel, with one worker per channel.
type Relay struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	subs    map[string]*subscription
	order   []string
	conn    Conn
	started bool

	seen    *window
	notices chan Notice

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	sleep     func(ctx context.Context, d time.Duration) bool
}

func New(transport Transport, cfg Config, logger *zap.Logger) *Relay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Relay{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		subs:      make(map[string]*subscription),
		seen:      newWindow(cfg.DedupeSize),
		notices:   make(chan Notice, 32),
		sleep:     sleepCtx,
	}
}

// Handle registers h for event on ch. Handlers must be registered before Start.
func (r *Relay) Handle(ch Channel, event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.logger.Warn("Handler registered after start is ignored",
			zap.String("channel", ch.Name), zap.String("event", event))
		return
	}
	sub, ok := r.subs[ch.Name]
	if !ok {
		sub = &subscription{ch: ch, handlers: make(map[string][]Handler)}
		r.subs[ch.Name] = sub
		r.order = append(r.order, ch.Name)
	}
	sub.handlers[event] = append(sub.handlers[event], h)
}

// Notices returns the relay's notice stream. It is closed by Close.
func (r *Relay) Notices() <-chan Notice { return r.notices }

// Start connects in the background and keeps reconnecting until Close or ctx end.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("relay already started")
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, name := range r.order {
		sub := r.subs[name]
		sub.queue = make(chan Message, r.cfg.QueueSize)
		r.wg.Add(1)
		go r.work(ctx, sub)
	}
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

func (r *Relay) loop(ctx context.Context) {
	defer r.wg.Done()
	attempt := 0
	for {
		conn, err := r.connect(ctx)
		if err == nil {
			connectedAt := time.Now()
			r.notice(Notice{Kind: NoticeConnected, Attempt: attempt})
			r.logger.Info("Relay connected", zap.Int("attempt", attempt))

			err = r.read(ctx, conn)
			r.setConn(nil)
			if cerr := conn.Close(); cerr != nil {
				r.logger.Debug("Relay connection close failed", zap.Error(cerr))
			}
			if time.Since(connectedAt) >= r.cfg.HealthyAfter {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}

		delay := r.cfg.Backoff.Delay(attempt)
		r.notice(Notice{Kind: NoticeDisconnected, Attempt: attempt, Delay: delay, Err: err})
		r.logger.Warn("Relay disconnected, reconnecting",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		attempt++
		if !r.sleep(ctx, delay) {
			return
		}
	}
}

func (r *Relay) connect(ctx context.Context) (Conn, error) {
	conn, err := r.transport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	r.mu.Lock()
	var chans []Channel
	for _, name := range r.order {
		chans = append(chans, r.subs[name].ch)
	}
	r.mu.Unlock()

	for _, ch := range chans {
		if err := conn.Subscribe(ctx, ch); err != nil {
			r.notice(Notice{Kind: NoticeSubscribe, Channel: ch.Name, Err: err})
			conn.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", ch.Name, err)
		}
	}
	r.setConn(conn)
	return conn, nil
}

func (r *Relay) read(ctx context.Context, conn Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		msg.Event = strings.TrimPrefix(msg.Event, ".")

		r.mu.Lock()
		sub, ok := r.subs[msg.Channel]
		r.mu.Unlock()
		if !ok || len(sub.handlers[msg.Event]) == 0 {
			r.logger.Debug("Relay event without handler",
				zap.String("channel", msg.Channel), zap.String("event", msg.Event))
			continue
		}

		if k, ok := keyFor(msg); ok && !r.seen.add(k) {
			r.notice(Notice{Kind: NoticeDuplicate, Channel: msg.Channel, Event: msg.Event})
			r.logger.Debug("Dropped replayed event",
				zap.String("channel", msg.Channel), zap.String("event", msg.Event))
			continue
		}

		select {
		case sub.queue <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) work(ctx context.Context, sub *subscription) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.queue:
			for _, h := range sub.handlers[msg.Event] {
				if err := h(ctx, msg); err != nil {
					r.notice(Notice{Kind: NoticeHandler, Channel: msg.Channel, Event: msg.Event, Err: err})
					r.logger.Warn("Relay handler failed",
						zap.String("channel", msg.Channel), zap.String("event", msg.Event), zap.Error(err))
				}
			}
		}
	}
}

// Publish sends an event on the live connection.
func (r *Relay) Publish(ctx context.Context, ch Channel, event string, data any) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, models.ErrTransientNetwork)
	}
	if err := conn.Publish(ctx, ch, event, data); err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", event, ch.Name, err)
	}
	return nil
}

// Connected reports whether a broker connection is live.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *Relay) setConn(c Conn) {
	r.mu.Lock()
	r.conn = c
	r.mu.Unlock()
}

func (r *Relay) notice(n Notice) {
	n.At = time.Now()
	select {
	case r.notices <- n:
	default:
		r.logger.Debug("Relay notice dropped", zap.String("kind", string(n.Kind)))
	}
}

// Close stops the relay and waits for its goroutines. Safe to call repeatedly.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.wg.Wait()
		close(r.notices)
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
