package realtimesvc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trezcool/masomo/console/core"
	"github.com/trezcool/masomo/console/core/realtime"
	"github.com/trezcool/masomo/console/core/session"
)

const (
	handshakeTimeout = 10 * time.Second
	maxReconnectWait = time.Minute
)

// Channel is a websocket realtime.Channel that keeps itself connected while it has a token.
type Channel struct {
	url      string
	delay    time.Duration
	dialer   *websocket.Dialer
	clientID string
	logger   core.Logger

	// OnAuthFailure runs when the server refuses the handshake token.
	OnAuthFailure func(ctx context.Context)

	mu       sync.Mutex
	token    string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	handlers map[realtime.EventKind]map[int]func(realtime.Event)
	nextID   int
}

var _ realtime.Channel = (*Channel)(nil)

func NewChannel(url string, reconnectDelay time.Duration, logger core.Logger) *Channel {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Channel{
		url:      url,
		delay:    reconnectDelay,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		clientID: uuid.New().String(),
		logger:   logger,
		handlers: make(map[realtime.EventKind]map[int]func(realtime.Event)),
	}
}

// On registers handler for kind. The returned func is safe to call more than once.
func (c *Channel) On(kind realtime.EventKind, handler func(realtime.Event)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	if c.handlers[kind] == nil {
		c.handlers[kind] = make(map[int]func(realtime.Event))
	}
	c.handlers[kind][id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[kind], id)
	}
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Handlers reports how many handlers are registered for kind.
func (c *Channel) Handlers(kind realtime.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[kind])
}

// Connect (re)starts the connection loop authenticated with token.
func (c *Channel) Connect(token string) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.token = token
	c.mu.Unlock()

	go c.run(ctx)
}

// Close stops the connection loop. It does not wait for it to exit.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.token = ""
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Follow connects the channel when the store gains an access token and closes it when
// the token goes away. A rotated token is used from the next reconnect on.
func (c *Channel) Follow(store *session.Store) (cancel func()) {
	var (
		mu      sync.Mutex
		current string
	)
	apply := func(sess session.Session) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case sess.AccessToken == current:
		case sess.AccessToken == "":
			c.Close()
		case current == "":
			c.Connect(sess.AccessToken)
		default:
			c.mu.Lock()
			c.token = sess.AccessToken
			c.mu.Unlock()
		}
		current = sess.AccessToken
	}
	cancel = store.OnChange(apply)
	apply(store.Session())
	return cancel
}

func (c *Channel) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.delay
	policy.MaxInterval = maxReconnectWait
	policy.MaxElapsedTime = 0

	for {
		conn, resp, err := c.dial(ctx)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				c.logger.Warn("realtime: handshake rejected", map[string]interface{}{"status": resp.StatusCode})
				if c.OnAuthFailure != nil && ctx.Err() == nil {
					c.OnAuthFailure(ctx)
				}
				return
			}
			c.logger.Debug("realtime: dial failed", err)
		} else {
			policy.Reset()
			if !c.attach(ctx, conn) {
				return
			}
			c.read(ctx, conn)
			c.detach(conn)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, *http.Response, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Client-Id", c.clientID)
	return c.dialer.DialContext(ctx, c.url, header)
}

// attach publishes conn unless the loop was stopped meanwhile.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.logger.Debug("realtime: connected", c.url)
	return true
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *Channel) read(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var frame realtime.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			// disconnects are expected; the loop reconnects
			c.logger.Debug("realtime: disconnected", err)
			return
		}
		evt, err := realtime.Decode(frame)
		if err != nil {
			c.logger.Debug("realtime: dropping frame", err)
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Channel) dispatch(evt realtime.Event) {
	c.mu.Lock()
	fns := make([]func(realtime.Event), 0, len(c.handlers[evt.Kind]))
	for _, fn := range c.handlers[evt.Kind] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
