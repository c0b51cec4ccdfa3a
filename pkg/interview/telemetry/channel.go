// Package telemetry maintains the live face-confidence channel: a websocket
// that carries camera snapshots out and confidence scores back, reconnecting
// with capped exponential backoff when the connection is lost.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-interview/internal/redact"
	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/interview/protocol"
)

const (
	DefaultReconnectDelay    = 2 * time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultMaxAttempts       = 10
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	eventBufferSize          = 64
)

// Status is the channel's connection state.
type Status int32

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
	// StatusDegraded means the channel gave up reconnecting. The interview
	// continues without telemetry.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Config configures a Channel.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// MaxAttempts is the number of consecutive failed dials before the
	// channel is abandoned. Zero retries forever.
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Event is emitted on Channel.Events().
type Event interface {
	telemetryEventType() string
}

// StatusEvent reports a status transition. Err is set on closures and on
// abandonment.
type StatusEvent struct {
	Status Status
	Err    error
}

func (e StatusEvent) telemetryEventType() string { return "status" }

// ScoreEvent carries a confidence score received from the scorer.
type ScoreEvent struct {
	FaceConfidence float64
}

func (e ScoreEvent) telemetryEventType() string { return "score" }

// ReconnectEvent is emitted when a reconnect is scheduled.
type ReconnectEvent struct {
	Attempt int
	Delay   time.Duration
}

func (e ReconnectEvent) telemetryEventType() string { return "reconnect" }

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Option configures a Channel.
type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// withAfter replaces the reconnect wait; tests use it to observe delays.
func withAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Channel) {
		if after != nil {
			c.after = after
		}
	}
}

// Channel is the telemetry connection. At most one websocket is open at any
// time; Run owns the connect/read/reconnect loop.
type Channel struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	after  func(time.Duration) <-chan time.Time

	status atomic.Int32

	mu        sync.Mutex
	conn      *websocket.Conn
	lastScore float64
	hasScore  bool
	cancel    context.CancelFunc

	writeMu sync.Mutex

	events  chan Event
	running atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

func New(cfg Config, opts ...Option) *Channel {
	c := &Channel{
		cfg:    cfg.withDefaults(),
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
		after:  time.After,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.status.Store(int32(StatusConnecting))
	return c
}

// Events returns the channel's event stream. It is closed when Run returns.
// Events are dropped if the consumer falls behind.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) Status() Status {
	return Status(c.status.Load())
}

// LastScore returns the most recent confidence score.
func (c *Channel) LastScore() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScore, c.hasScore
}

// Run connects and keeps the channel connected until ctx is done, Close is
// called, or the channel is abandoned after MaxAttempts consecutive failed
// dials. Abandonment is not an error; the final status is Degraded.
func (c *Channel) Run(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	if !c.running.CompareAndSwap(false, true) {
		return core.NewInvalidStateError("telemetry channel is already running")
	}
	if strings.TrimSpace(c.cfg.URL) == "" {
		close(c.events)
		close(c.done)
		return core.NewInvalidRequestErrorWithParam("telemetry url must not be empty", "url")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	if c.closed.Load() {
		cancel()
	}
	c.mu.Unlock()
	defer func() {
		cancel()
		close(c.events)
		close(c.done)
	}()

	backoff := c.newBackoff()
	failures := 0
	for {
		if ctx.Err() != nil {
			c.setStatus(StatusClosed, nil)
			return nil
		}
		c.setStatus(StatusConnecting, nil)

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(StatusClosed, nil)
				return nil
			}
			failures++
			c.logger.Warn("telemetry connect failed", "attempt", failures, "error", err)
			if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
				c.logger.Warn("telemetry channel abandoned", "attempts", failures)
				c.setStatus(StatusDegraded, err)
				return nil
			}
			if !c.wait(ctx, backoff, failures) {
				c.setStatus(StatusClosed, nil)
				return nil
			}
			continue
		}

		failures = 0
		backoff = c.newBackoff()
		c.setConn(conn)
		c.setStatus(StatusOpen, nil)

		readErr := c.readLoop(ctx, conn)

		c.setConn(nil)
		_ = conn.Close()
		c.setStatus(StatusClosed, readErr)
		if ctx.Err() != nil {
			return nil
		}
		if !c.wait(ctx, backoff, 1) {
			return nil
		}
	}
}

// Close stops the loop and closes the current connection. It is safe to
// call more than once and before Run.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed.Store(true)
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	if cancel != nil {
		cancel()
	}
	if c.running.Load() {
		<-c.done
	}
	return nil
}

// SendFrame writes a frame when the channel is open. Frames offered in any
// other state are dropped and SendFrame reports false.
func (c *Channel) SendFrame(frame protocol.ClientFrame) bool {
	if c.Status() != StatusOpen {
		return false
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		c.logger.Debug("telemetry frame write failed", "error", err)
		// The read loop observes the closed socket and schedules a reconnect.
		_ = conn.Close()
		return false
	}
	return true
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("telemetry dial %s failed (status %d): %w", redact.URL(c.cfg.URL), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("telemetry dial %s: %w", redact.URL(c.cfg.URL), err)
	}
	return conn, nil
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		score, err := protocol.DecodeServerMessage(data)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Debug("discarding malformed telemetry message", "error", core.NewMalformedTelemetryError(decodeErr.Error()))
			}
			continue
		}
		c.mu.Lock()
		c.lastScore = score.FaceConfidence
		c.hasScore = true
		c.mu.Unlock()
		c.emit(ScoreEvent{FaceConfidence: score.FaceConfidence})
	}
}

// wait blocks for the next backoff delay. It returns false if ctx ends first.
func (c *Channel) wait(ctx context.Context, backoff retry.Backoff, attempt int) bool {
	delay, stop := backoff.Next()
	if stop {
		delay = c.cfg.MaxReconnectDelay
	}
	c.logger.Info("telemetry reconnect scheduled", "attempt", attempt, "delay", delay)
	c.emit(ReconnectEvent{Attempt: attempt, Delay: delay})
	select {
	case <-ctx.Done():
		return false
	case <-c.after(delay):
		return true
	}
}

func (c *Channel) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.ReconnectDelay)
	return retry.WithCappedDuration(c.cfg.MaxReconnectDelay, b)
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) setStatus(s Status, err error) {
	prev := Status(c.status.Swap(int32(s)))
	if prev == s && err == nil {
		return
	}
	if err != nil {
		c.logger.Info("telemetry status", "from", prev, "to", s, "error", err)
	} else {
		c.logger.Info("telemetry status", "from", prev, "to", s)
	}
	c.emit(StatusEvent{Status: s, Err: err})
}

func (c *Channel) emit(event Event) {
	select {
	case c.events <- event:
	default:
		// Avoid blocking the loop if the consumer stops reading.
	}
}
