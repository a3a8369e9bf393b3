// Package feed is the client side of the realtime change feed: a websocket
// connection multiplexing one channel per topic.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/iksnae/chatsync/internal"
	"github.com/tidwall/gjson"
)

const (
	readLimit    = 4 << 20
	dialTimeout  = 15 * time.Second
	writeTimeout = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Subscribe while no connection is up
	ErrNotConnected = errors.New("realtime connection is not established")
	// ErrAlreadySubscribed is returned when the topic already has a channel
	ErrAlreadySubscribed = errors.New("topic already subscribed")

	errJoinTimeout = errors.New("join not acknowledged in time")
)

// Status is the state of one topic subscription
type Status int

const (
	StatusSubscribed Status = iota
	StatusChannelError
	StatusClosed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusChannelError:
		return "CHANNEL_ERROR"
	case StatusClosed:
		return "CLOSED"
	case StatusTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Connectivity is a transport-level event
type Connectivity int

const (
	ConnEstablished Connectivity = iota
	ConnLost
	ConnErrored
)

func (c Connectivity) String() string {
	switch c {
	case ConnEstablished:
		return "established"
	case ConnLost:
		return "lost"
	case ConnErrored:
		return "errored"
	default:
		return "unknown"
	}
}

type (
	// Handler receives the changes of one topic, in emit order
	Handler func(Change)
	// StatusFunc receives subscription status changes of one topic
	StatusFunc func(Status, error)
	// ConnectivityFunc receives transport events
	ConnectivityFunc func(Connectivity, error)
)

// Handle identifies one subscription. Handles from before a reconnect are
// stale: unsubscribing them is a no-op.
type Handle struct {
	topic string
	ref   string
	gen   uint64
}

// Topic returns the subscribed topic
func (h Handle) Topic() string {
	return h.topic
}

// NewHandle builds a handle for feeds other than Client, such as test doubles
func NewHandle(topic, ref string) Handle {
	return Handle{topic: topic, ref: ref}
}

// Ref returns the join reference of the subscription
func (h Handle) Ref() string {
	return h.ref
}

// wsConn is the part of *websocket.Conn the client uses
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// Options configures a Client
type Options struct {
	URL               string
	APIKey            string
	AccessToken       string
	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration
	HTTPClient        *http.Client
	// NewBackOff builds the reconnect policy; defaults to unbounded exponential backoff
	NewBackOff func() backoff.BackOff
}

type channel struct {
	topic    string
	joinRef  string
	gen      uint64
	joined   bool
	handler  Handler
	onStatus StatusFunc
}

// Client is a realtime change feed connection
type Client struct {
	opts Options

	mu       sync.Mutex
	conn     wsConn
	gen      uint64
	channels map[string]*channel
	connCbs  []ConnectivityFunc

	ref       atomic.Uint64
	connected atomic.Bool
}

// New creates a client; nothing is dialed until Run
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("realtime URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("realtime URL: %w", err)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = 10 * time.Second
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Client{opts: opts, channels: make(map[string]*channel)}, nil
}

// OnConnectivityChange registers a transport event callback
func (c *Client) OnConnectivityChange(cb ConnectivityFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connCbs = append(c.connCbs, cb)
}

// Connected reports whether a connection is currently up
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Subscribe joins topic. It returns once the join is sent; the confirmation
// (or rejection) arrives through onStatus.
func (c *Client) Subscribe(ctx context.Context, topic string, filter Filter, handler Handler, onStatus StatusFunc) (Handle, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return Handle{}, &internal.SubscriptionError{Topic: topic, Op: "subscribe", Err: ErrNotConnected}
	}
	if _, exists := c.channels[topic]; exists {
		c.mu.Unlock()
		return Handle{}, &internal.SubscriptionError{Topic: topic, Op: "subscribe", Err: ErrAlreadySubscribed}
	}
	ch := &channel{
		topic:    topic,
		joinRef:  c.nextRef(),
		gen:      c.gen,
		handler:  handler,
		onStatus: onStatus,
	}
	c.channels[topic] = ch
	conn := c.conn
	c.mu.Unlock()

	join := frame{Topic: wireTopic(topic), Event: eventJoin, Payload: joinPayload(filter, c.opts.AccessToken), Ref: ch.joinRef}
	if err := c.send(ctx, conn, join); err != nil {
		c.mu.Lock()
		if c.channels[topic] == ch {
			delete(c.channels, topic)
		}
		c.mu.Unlock()
		return Handle{}, &internal.SubscriptionError{Topic: topic, Op: "subscribe", Err: err}
	}

	time.AfterFunc(c.opts.JoinTimeout, func() { c.expireJoin(ch) })
	internal.LogDebug("Joining %s (%s)", topic, filter)
	return Handle{topic: topic, ref: ch.joinRef, gen: ch.gen}, nil
}

func (c *Client) expireJoin(ch *channel) {
	c.mu.Lock()
	expired := c.channels[ch.topic] == ch && !ch.joined
	if expired {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
	if expired && ch.onStatus != nil {
		ch.onStatus(StatusTimedOut, errJoinTimeout)
	}
}

// Unsubscribe leaves the topic of h. Stale or repeated handles are a no-op.
func (c *Client) Unsubscribe(ctx context.Context, h Handle) error {
	c.mu.Lock()
	ch, ok := c.channels[h.topic]
	if !ok || ch.joinRef != h.ref || ch.gen != h.gen {
		c.mu.Unlock()
		return nil
	}
	delete(c.channels, h.topic)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	leave := frame{Topic: wireTopic(h.topic), Event: eventLeave, Payload: map[string]interface{}{}, Ref: c.nextRef()}
	if err := c.send(ctx, conn, leave); err != nil {
		return &internal.SubscriptionError{Topic: h.topic, Op: "unsubscribe", Err: err}
	}
	internal.LogDebug("Left %s", h.topic)
	return nil
}

// Topics returns the topics with a live channel
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for t := range c.channels {
		out = append(out, t)
	}
	return out
}

// Run keeps a connection up until ctx is cancelled, reconnecting with backoff.
// Every new connection starts with no channels.
func (c *Client) Run(ctx context.Context) error {
	b := c.opts.NewBackOff()
	for {
		var conn wsConn
		err := backoff.RetryNotify(func() error {
			cn, err := c.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			conn = cn
			return nil
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			internal.LogWarn("Realtime connect failed, retrying in %s: %v", wait.Round(time.Millisecond), err)
			c.emit(ConnErrored, err)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		b.Reset()

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			c.emit(ConnLost, nil)
			return ctx.Err()
		}
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			internal.LogWarn("Realtime connection closed: %v", err)
			c.emit(ConnLost, err)
		default:
			internal.LogWarn("Realtime connection failed: %v", err)
			c.emit(ConnErrored, err)
		}
	}
}

func (c *Client) dial(ctx context.Context) (wsConn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if c.opts.APIKey != "" {
		q.Set("apikey", c.opts.APIKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, u.String(), &websocket.DialOptions{HTTPClient: c.opts.HTTPClient}) //nolint:bodyclose // Dial closes the response body
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// serve runs one connection until it fails
func (c *Client) serve(ctx context.Context, conn wsConn) error {
	c.mu.Lock()
	c.conn = conn
	c.gen++
	c.channels = make(map[string]*channel)
	c.mu.Unlock()
	c.connected.Store(true)
	internal.LogInfo("Realtime connected")
	c.emit(ConnEstablished, nil)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(connCtx, conn)

	err := c.readLoop(connCtx, conn)

	c.connected.Store(false)
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return err
}

func (c *Client) readLoop(ctx context.Context, conn wsConn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Handlers run on the reader goroutine, so
// the changes of a topic are delivered in the order they were received.
func (c *Client) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		internal.LogWarn("Dropping invalid realtime frame")
		return
	}
	msg := gjson.ParseBytes(data)
	wire := msg.Get("topic").String()
	if wire == heartbeatTopic {
		return
	}
	topic := localTopic(wire)
	event := msg.Get("event").String()
	payload := msg.Get("payload")

	c.mu.Lock()
	ch := c.channels[topic]
	if ch == nil {
		c.mu.Unlock()
		return
	}

	var (
		status    Status
		statusErr error
		notify    bool
	)
	switch event {
	case eventReply:
		if msg.Get("ref").String() != ch.joinRef {
			break
		}
		if payload.Get("status").String() == "ok" {
			if !ch.joined {
				ch.joined = true
				status, notify = StatusSubscribed, true
			}
		} else {
			delete(c.channels, topic)
			status, notify = StatusChannelError, true
			statusErr = fmt.Errorf("join rejected: %s", payload.Get("response.reason").String())
		}
	case eventError:
		delete(c.channels, topic)
		status, statusErr, notify = StatusChannelError, errors.New("channel error"), true
	case eventClose:
		delete(c.channels, topic)
		status, notify = StatusClosed, true
	case eventChanges:
		handler := ch.handler
		c.mu.Unlock()
		change, err := parseChange(topic, payload)
		if err != nil {
			internal.LogWarn("Dropping malformed change on %s: %v", topic, err)
			return
		}
		if handler != nil {
			handler(change)
		}
		return
	}
	onStatus := ch.onStatus
	c.mu.Unlock()

	if notify {
		internal.LogDebug("Topic %s: %s", topic, status)
		if onStatus != nil {
			onStatus(status, statusErr)
		}
	}
}

func (c *Client) heartbeat(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat := frame{Topic: heartbeatTopic, Event: eventHeartbeat, Payload: map[string]interface{}{}, Ref: c.nextRef()}
			if err := c.send(ctx, conn, beat); err != nil {
				if ctx.Err() == nil {
					internal.LogWarn("Heartbeat failed: %v", err)
					_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				}
				return
			}
		}
	}
}

func (c *Client) send(ctx context.Context, conn wsConn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (c *Client) emit(kind Connectivity, err error) {
	c.mu.Lock()
	cbs := append([]ConnectivityFunc(nil), c.connCbs...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(kind, err)
	}
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}
