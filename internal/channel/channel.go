// Package channel maintains the websocket link to the audio backend. It
// owns dialing, resubscription, ack routing and backoff; everything read
// off the wire lands in the state store.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
)

var (
	// ErrNotConnected is returned immediately while the link is down.
	// Commands are never queued: a replayed play or seek after reconnect
	// would act on a world that no longer exists.
	ErrNotConnected = errors.New("channel: not connected")

	// ErrCallTimeout is returned when the backend never acks a command.
	ErrCallTimeout = errors.New("channel: call timed out")
)

const dialTimeout = 10 * time.Second

// Options configure the backend link.
type Options struct {
	// URL is the backend websocket endpoint, e.g. ws://127.0.0.1:9700/ws.
	URL string

	// Sources to subscribe plugin events for.
	Sources []source.Kind

	// CallTimeout bounds one command round trip. Default 5s.
	CallTimeout time.Duration

	// PingInterval between keepalive pings. Zero disables pings.
	PingInterval time.Duration

	// ReconnectMin/Max bound the redial backoff. Defaults 500ms / 30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (o *Options) applyDefaults() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = 500 * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
}

// Channel is the websocket client. Run owns the connection; Call may be
// used from any goroutine.
type Channel struct {
	opts   Options
	st     *state.Store
	clk    clock.Clock
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan proto.Ack

	// writeMu serializes data frames; control frames go around it.
	writeMu sync.Mutex
}

// New builds a channel client. Run must be started for the link to come up.
func New(st *state.Store, opts Options, clk clock.Clock, log zerolog.Logger) *Channel {
	opts.applyDefaults()
	return &Channel{
		opts:    opts,
		st:      st,
		clk:     clk,
		log:     log,
		dialer:  &websocket.Dialer{HandshakeTimeout: dialTimeout},
		pending: make(map[string]chan proto.Ack),
	}
}

// Connected reports whether the link is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials and reads until ctx is cancelled, redialing with jittered
// exponential backoff. Every reconnect is a full resync point: deltas may
// have been missed while down, so the session resubscribes and requests
// the full state instead of assuming continuity.
func (c *Channel) Run(ctx context.Context) {
	backoff := c.opts.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		linkedUp, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if linkedUp {
			backoff = c.opts.ReconnectMin
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("backend link down")

		select {
		case <-ctx.Done():
			return
		case <-c.clk.After(jitter(backoff)):
		}
		if backoff < c.opts.ReconnectMax {
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
		}
	}
}

// jitter spreads redials so a fleet restart does not dial in lockstep.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d/4)+1))
}

// runOnce handles one connection lifetime. linkedUp reports whether the
// session got as far as a successful subscribe.
func (c *Channel) runOnce(ctx context.Context) (linkedUp bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.opts.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return false, fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info().Str("url", c.opts.URL).Msg("backend link up")

	defer c.teardown(conn)

	// Unblock the read loop when ctx ends, and keep pings flowing.
	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()
	if c.opts.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		})
		go c.pingLoop(sessCtx, conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		c.route(data)
	}
}

// handshake subscribes the session and asks for a full state resend.
// Runs before the connection is published, so it owns the socket alone.
func (c *Channel) handshake(conn *websocket.Conn) error {
	sub, err := json.Marshal(proto.SubscribeRequest{
		Categories: []string{proto.CategoryState, proto.CategoryPlugin},
		Sources:    c.opts.Sources,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(proto.Envelope{
		Category: proto.CategoryState,
		Event:    proto.EventSubscribe,
		Data:     sub,
	}); err != nil {
		return err
	}
	return conn.WriteJSON(proto.Envelope{
		Category: proto.CategoryState,
		Event:    proto.EventGetState,
	})
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := c.clk.Ticker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// teardown retires a dead connection: the store goes stale and every
// pending call fails now rather than waiting out its timeout.
func (c *Channel) teardown(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pend := c.pending
	c.pending = make(map[string]chan proto.Ack)
	c.mu.Unlock()

	for _, ch := range pend {
		close(ch)
	}
	c.st.MarkStale()
}

// route dispatches one inbound frame. Unparseable frames are dropped;
// the connection stays up.
func (c *Channel) route(data []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug().Err(err).Msg("dropping unparseable frame")
		return
	}

	switch env.Category {
	case proto.CategoryState:
		c.routeState(env)
	case proto.CategoryPlugin:
		var ev proto.PluginEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("dropping plugin event")
			return
		}
		c.st.ApplyPluginEvent(ev)
	case proto.CategoryCommand:
		if env.Event == proto.EventAck {
			c.resolve(env)
		}
	default:
		c.log.Debug().Str("category", env.Category).Msg("dropping unknown category")
	}
}

func (c *Channel) routeState(env proto.Envelope) {
	switch env.Event {
	case proto.EventPush:
		var d proto.StateDelta
		if err := json.Unmarshal(env.Data, &d); err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable delta")
			return
		}
		if err := c.st.ApplyDelta(d); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed delta")
		}
	case proto.EventFull:
		var st source.State
		if err := json.Unmarshal(env.Data, &st); err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable full state")
			return
		}
		c.st.ApplyFull(st)
	default:
		c.log.Debug().Str("event", env.Event).Msg("dropping unknown state event")
	}
}

func (c *Channel) resolve(env proto.Envelope) {
	var ack proto.Ack
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			c.log.Warn().Err(err).Str("reply_to", env.ReplyTo).Msg("dropping undecodable ack")
			return
		}
	}

	c.mu.Lock()
	ch, ok := c.pending[env.ReplyTo]
	if ok {
		delete(c.pending, env.ReplyTo)
	}
	c.mu.Unlock()

	if !ok {
		// Late ack after the caller timed out. Nothing to do.
		c.log.Debug().Str("reply_to", env.ReplyTo).Msg("ack for retired call")
		return
	}
	ch <- ack
}

// Call sends one command and waits for its ack. Fails fast with
// ErrNotConnected while the link is down.
func (c *Channel) Call(ctx context.Context, cmd proto.Command) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan proto.Ack, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("channel: encode %s: %w", cmd.Kind, err)
	}
	env := proto.Envelope{
		Category: proto.CategoryCommand,
		Event:    proto.EventCommand,
		ID:       id,
		Data:     data,
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("channel: write %s: %w", cmd.Kind, err)
	}

	timeout := c.clk.Timer(c.opts.CallTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return fmt.Errorf("%w: %s after %s", ErrCallTimeout, cmd.Kind, c.opts.CallTimeout)
	case ack, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: link lost mid-call", ErrNotConnected)
		}
		if !ack.OK {
			return fmt.Errorf("channel: backend rejected %s: %s", cmd.Kind, ack.Error)
		}
		return nil
	}
}
