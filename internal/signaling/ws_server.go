package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	defaultMaxSignalingMessageBytes      = 64 * 1024
	defaultMaxSignalingMessagesPerSecond = 50
	defaultSendQueueMessages             = 64
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Lifecycle *pairing.Lifecycle
	Logger    *slog.Logger

	// Origins is checked on upgrade. If nil, every origin is accepted.
	Origins *origin.Policy

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// SendQueueMessages bounds outbound frames buffered per connection. A
	// connection whose queue is full is closed as a slow consumer.
	SendQueueMessages int

	// Zero disables server pings and the idle deadline respectively.
	SignalingWSPingInterval time.Duration
	SignalingWSIdleTimeout  time.Duration
}

// Server implements the matchmaker's WebSocket surface.
//
// Endpoints:
//   - GET /signal : join/signal protocol, one connection per browser tab
type Server struct {
	cfg      Config
	life     *pairing.Lifecycle
	metrics  *metrics.Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = pairing.NewLifecycle(pairing.Config{Logger: cfg.Logger})
	}
	if cfg.MaxSignalingMessageBytes <= 0 {
		cfg.MaxSignalingMessageBytes = defaultMaxSignalingMessageBytes
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		cfg.MaxSignalingMessagesPerSecond = defaultMaxSignalingMessagesPerSecond
	}
	if cfg.SendQueueMessages <= 0 {
		cfg.SendQueueMessages = defaultSendQueueMessages
	}

	s := &Server{
		cfg:     cfg,
		life:    cfg.Lifecycle,
		metrics: cfg.Lifecycle.Metrics(),
		log:     cfg.Logger,
		conns:   make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins == nil {
				return true
			}
			_, ok := cfg.Origins.Check(r)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signal", s.handleWebSocketSignal)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close asks every open connection to go away. Each connection then runs its
// normal teardown, so partners are notified as usual.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleWebSocketSignal(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{
		srv:  s,
		conn: conn,
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.cfg.MaxSignalingMessagesPerSecond),
			int64(s.cfg.MaxSignalingMessagesPerSecond),
		),
		maxMessageBytes: s.cfg.MaxSignalingMessageBytes,
		pingInterval:    s.cfg.SignalingWSPingInterval,
		idleTimeout:     s.cfg.SignalingWSIdleTimeout,
		out:             make(chan pairing.Event, s.cfg.SendQueueMessages),
		done:            make(chan struct{}),
		pumpDone:        make(chan struct{}),
		log:             s.log,
	}
	c.run()
}

// wsConn is one signaling connection. It is the pairing.Sink for its
// ConnectionID: events are queued without blocking and written by a single
// pump goroutine.
type wsConn struct {
	srv  *Server
	conn *websocket.Conn
	id   pairing.ConnectionID
	log  *slog.Logger

	limiter         *ratelimit.TokenBucket
	maxMessageBytes int64
	pingInterval    time.Duration
	idleTimeout     time.Duration

	out      chan pairing.Event
	done     chan struct{}
	pumpDone chan struct{}

	writeMu sync.Mutex

	// Set once by stop before done is closed; read by the pump afterwards.
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	finalFrame  []byte
	flush       bool
}

func (c *wsConn) run() {
	if !c.srv.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.Close()
		return
	}
	defer c.srv.untrack(c)

	id, err := c.srv.life.Open(c)
	if err != nil {
		if errors.Is(err, pairing.ErrTooManyConnections) {
			c.fail("too_many_connections", "too many connections", websocket.CloseTryAgainLater, "too many connections")
		} else {
			c.fail("internal_error", err.Error(), websocket.CloseInternalServerErr, "internal error")
		}
		_ = c.conn.Close()
		return
	}
	c.id = id
	c.log = c.log.With("conn", id)

	go c.writePump()

	c.readLoop()

	c.shutdown(websocket.CloseNormalClosure, "")
	c.srv.life.Close(c.id)
	<-c.pumpDone
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(c.maxMessageBytes)
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.srv.metrics.Inc(metrics.ProtocolErrors)
				c.shutdown(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.shutdown(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		c.extendDeadline()

		// Read first, then rate limit, so the close frame is not lost behind
		// unread bytes in the receive buffer.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.srv.metrics.Inc(metrics.ProtocolErrors)
			c.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseClientMessage(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.ProtocolErrors)
			c.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		switch msg.Type {
		case MessageTypeJoin:
			c.srv.life.Join(c.id)
		case MessageTypeSignal:
			c.srv.life.Signal(c.id, pairing.SessionID(msg.SessionID), msg.Payload)
		default:
			c.fail("bad_message", fmt.Sprintf("unexpected message type %q", msg.Type), websocket.ClosePolicyViolation, "bad message")
			return
		}
	}
}

func (c *wsConn) extendDeadline() {
	if c.idleTimeout <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// Deliver implements pairing.Sink. It never blocks: a full queue marks the
// connection as a slow consumer and closes it.
func (c *wsConn) Deliver(ev pairing.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- ev:
		return true
	default:
		c.srv.metrics.Inc(metrics.DropReasonSlowConsumer)
		c.stop(websocket.ClosePolicyViolation, "slow consumer", nil, false)
		return false
	}
}

func (c *wsConn) writePump() {
	defer close(c.pumpDone)
	defer c.conn.Close()

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case ev := <-c.out:
			data, err := encodeEvent(ev)
			if err != nil {
				c.log.Error("failed to encode event", "kind", ev.Kind, "err", err)
				continue
			}
			if err := c.write(data); err != nil {
				c.abort()
				return
			}
		case <-ping:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				c.abort()
				return
			}
		case <-c.done:
			if c.flush && !c.drain() {
				return
			}
			if c.finalFrame != nil {
				_ = c.write(c.finalFrame)
			}
			c.closeWith(c.closeCode, c.closeReason)
			return
		}
	}
}

// drain writes events still queued when the connection was stopped. It
// reports false if a write failed.
func (c *wsConn) drain() bool {
	for {
		select {
		case ev := <-c.out:
			data, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			if err := c.write(data); err != nil {
				return false
			}
		default:
			return true
		}
	}
}

func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// shutdown flushes queued events, then closes with code. Only the first stop
// has any effect.
func (c *wsConn) shutdown(code int, reason string) {
	c.stop(code, reason, nil, true)
}

func (c *wsConn) stop(code int, reason string, final []byte, flush bool) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.finalFrame = final
		c.flush = flush
		close(c.done)
	})
}

// abort marks the connection done after a failed write. The pump exits
// without a close frame and the deferred conn.Close unblocks the reader.
func (c *wsConn) abort() {
	c.stop(websocket.CloseAbnormalClosure, "", nil, false)
}

// fail sends an error frame after any queued events and then closes with
// closeCode.
func (c *wsConn) fail(code, message string, closeCode int, closeReason string) {
	data, err := json.Marshal(ServerMessage{Type: MessageTypeError, Code: code, Message: message})
	if err != nil {
		data = nil
	}
	c.log.Debug("closing signaling connection", "code", code, "message", message)
	if c.id == "" {
		// No pump was started; write directly.
		if data != nil {
			_ = c.write(data)
		}
		c.closeWith(closeCode, closeReason)
		return
	}
	c.stop(closeCode, closeReason, data, true)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
