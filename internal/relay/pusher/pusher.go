// Package pusher is a relay transport speaking the Pusher channels protocol
// over a WebSocket, as used by Laravel Echo broadcasters.
package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"resbac/internal/models"
	"resbac/internal/relay"
)

const (
	protocolVersion  = "7"
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	privatePrefix    = "private-"
	clientPrefix     = "client-"
)

// Authorizer signs private channel subscriptions for a socket.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error)
}

type Config struct {
	Key     string
	Cluster string
	// Host overrides the cluster host, e.g. a Pusher-compatible service.
	Host string
	TLS  bool
	// URL overrides the computed endpoint entirely.
	URL string
}

func (c Config) endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	host := c.Host
	if host == "" {
		cluster := c.Cluster
		if cluster == "" {
			cluster = "mt1"
		}
		host = "ws-" + cluster + ".pusher.com"
	}
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("protocol", protocolVersion)
	q.Set("client", "resbac-go")
	q.Set("version", "1.0")
	q.Set("flash", "false")
	return fmt.Sprintf("%s://%s/app/%s?%s", scheme, host, url.PathEscape(c.Key), q.Encode())
}

type Transport struct {
	cfg    Config
	auth   Authorizer
	dialer *websocket.Dialer
	logger *zap.Logger
}

func New(cfg Config, auth Authorizer, logger *zap.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		auth:   auth,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger,
	}
}

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type established struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type protocolError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// payload unwraps data that the server sends as a JSON-encoded string.
func payload(raw json.RawMessage) json.RawMessage {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return raw
}

func (t *Transport) Connect(ctx context.Context) (relay.Conn, error) {
	ws, _, err := t.dialer.DialContext(ctx, t.cfg.endpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial pusher: %w: %w", models.ErrTransientNetwork, err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var first frame
	if err := ws.ReadJSON(&first); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to read pusher handshake: %w", err)
	}
	if first.Event != "pusher:connection_established" {
		ws.Close()
		return nil, fmt.Errorf("unexpected pusher handshake event %q: %w", first.Event, models.ErrMalformedResponse)
	}
	var est established
	if err := json.Unmarshal(payload(first.Data), &est); err != nil || est.SocketID == "" {
		ws.Close()
		return nil, fmt.Errorf("invalid pusher handshake: %w", models.ErrMalformedResponse)
	}
	if est.ActivityTimeout <= 0 {
		est.ActivityTimeout = 120
	}

	c := &conn{
		t:        t,
		ws:       ws,
		socketID: est.SocketID,
		activity: time.Duration(est.ActivityTimeout) * time.Second,
		inbox:    make(chan relay.Message, 64),
		done:     make(chan struct{}),
		waiters:  make(map[string]chan error),
		logger:   t.logger.With(zap.String("socket_id", est.SocketID)),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.keepalive()
	c.logger.Debug("Pusher connection established", zap.Duration("activity_timeout", c.activity))
	return c, nil
}

type conn struct {
	t        *Transport
	ws       *websocket.Conn
	socketID string
	activity time.Duration
	logger   *zap.Logger

	writeMu sync.Mutex

	inbox chan relay.Message
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	err     error
	waiters map[string]chan error

	closeOnce sync.Once
}

func (c *conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write pusher frame: %w: %w", models.ErrTransientNetwork, err)
	}
	return nil
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	for name, w := range c.waiters {
		w <- err
		delete(c.waiters, name)
	}
	c.mu.Unlock()
	c.shutdown()
}

func (c *conn) readLoop() {
	defer c.wg.Done()
	for {
		c.ws.SetReadDeadline(time.Now().Add(c.activity + 30*time.Second))
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.fail(fmt.Errorf("pusher connection lost: %w: %w", models.ErrTransientNetwork, err))
			return
		}
		switch f.Event {
		case "pusher:ping":
			if err := c.write(frame{Event: "pusher:pong", Data: json.RawMessage(`{}`)}); err != nil {
				c.fail(err)
				return
			}
		case "pusher:pong":
		case "pusher_internal:subscription_succeeded":
			c.resolve(f.Channel, nil)
		case "pusher:subscription_error":
			c.resolve(f.Channel, fmt.Errorf("subscription to %s rejected: %s", f.Channel, payload(f.Data)))
		case "pusher:error":
			var pe protocolError
			_ = json.Unmarshal(payload(f.Data), &pe)
			c.fail(fmt.Errorf("pusher error %d: %s", pe.Code, pe.Message))
			return
		default:
			if strings.HasPrefix(f.Event, "pusher") {
				continue
			}
			msg := relay.Message{
				Channel: strings.TrimPrefix(f.Channel, privatePrefix),
				Event:   f.Event,
				Data:    payload(f.Data),
			}
			select {
			case c.inbox <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *conn) keepalive() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.activity)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(frame{Event: "pusher:ping", Data: json.RawMessage(`{}`)}); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *conn) resolve(channel string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.waiters[channel]; ok {
		w <- err
		delete(c.waiters, channel)
	}
}

func wireName(ch relay.Channel) string {
	if ch.Private {
		return privatePrefix + ch.Name
	}
	return ch.Name
}

func (c *conn) Subscribe(ctx context.Context, ch relay.Channel) error {
	name := wireName(ch)
	data := map[string]string{"channel": name}
	if ch.Private {
		if c.t.auth == nil {
			return fmt.Errorf("private channel %s needs an authorizer", name)
		}
		sig, err := c.t.auth.AuthorizeChannel(ctx, c.socketID, name)
		if err != nil {
			return fmt.Errorf("failed to authorize %s: %w", name, err)
		}
		data["auth"] = sig
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	wait := make(chan error, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.waiters[name] = wait
	c.mu.Unlock()

	if err := c.write(frame{Event: "pusher:subscribe", Data: raw}); err != nil {
		c.mu.Lock()
		delete(c.waiters, name)
		c.mu.Unlock()
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, name)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *conn) Receive(ctx context.Context) (relay.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = errors.New("pusher connection closed")
		}
		return relay.Message{}, err
	case <-ctx.Done():
		return relay.Message{}, ctx.Err()
	}
}

// Publish sends a client event. The protocol only allows these on private channels.
func (c *conn) Publish(_ context.Context, ch relay.Channel, event string, data any) error {
	if !ch.Private {
		return fmt.Errorf("client events need a private channel, got %s", ch.Name)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode client event: %w", err)
	}
	if !strings.HasPrefix(event, clientPrefix) {
		event = clientPrefix + event
	}
	return c.write(frame{Event: event, Channel: wireName(ch), Data: raw})
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}
