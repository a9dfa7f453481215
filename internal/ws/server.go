// Package ws maintains the registry of live WebSocket connections and fans
// state changes out to them. Connections are authenticated before the
// upgrade, re-validated on every heartbeat and force-closed when their
// actor is banned.
package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/dependencies/clock"
	"github.com/whisper/support-chat/internal/metrics"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/protocol"
)

// Reasons sent in the banned event before a forced close.
const (
	ReasonBanned         = "banned"
	ReasonRevoked        = "credential revoked"
	ReasonSessionExpired = "session expired"
	ReasonLoggedOut      = "logged out"
)

// epollWaitTimeout bounds one epoll_wait call.
const epollWaitTimeout = 200 * time.Millisecond

// ErrServerClosed is returned by Broadcast after Shutdown.
var ErrServerClosed = errors.New("ws: server closed")

// Authenticator validates credentials at handshake and on every heartbeat.
type Authenticator interface {
	Check(ctx context.Context, origin, token string) (*auth.Identity, error)
	Revalidate(ctx context.Context, token string) (*auth.Identity, error)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for reads dispatched by epoll
	WriteTimeout   time.Duration // per-connection write deadline
	AuthTimeout    time.Duration // bound on a single credential check
	MaxFrameSize   int64         // largest accepted client frame
	OutboxSize     int           // buffered broadcast events
	TrustProxy     bool          // honor X-Forwarded-For for the auth origin
	TypingRate     rate.Limit    // typing relays per second per connection
	TypingBurst    int
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
		AuthTimeout:    3 * time.Second,
		MaxFrameSize:   4096,
		OutboxSize:     1024,
		TypingRate:     2,
		TypingBurst:    4,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

type outbound struct {
	data   []byte
	except string
	queued time.Time
}

// Server upgrades authenticated HTTP requests, tracks live connections and
// broadcasts events to them. On Linux idle connections are parked in epoll
// and ready ones are read by a bounded worker pool; elsewhere each
// connection gets a reader goroutine.
type Server struct {
	config     ServerConfig
	epoll      *Epoll
	conns      *ConnectionManager
	auth       Authenticator
	clock      clock.Clock
	logger     *slog.Logger
	workerPool chan struct{} // semaphore limiting concurrent read workers
	onMessage  func(conn *Connection, data []byte)
	outbox     chan outbound
	done       chan struct{}
	closeOnce  sync.Once
	startedAt  time.Time
}

// NewServer creates a Server and starts its fan-out goroutine.
func NewServer(config ServerConfig, authn Authenticator, clk clock.Clock, logger *slog.Logger) *Server {
	if config.OutboxSize <= 0 {
		config.OutboxSize = 1024
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 3 * time.Second
	}
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		auth:       authn,
		clock:      clk,
		logger:     logger.With(slog.String("component", "ws")),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		outbox:     make(chan outbound, config.OutboxSize),
		done:       make(chan struct{}),
		startedAt:  clk.Now(),
	}
	go s.fanout()
	return s
}

// SetMessageHandler registers the callback for client data frames. It must
// be called before Start.
func (s *Server) SetMessageHandler(fn func(conn *Connection, data []byte)) {
	s.onMessage = fn
}

// Start creates the epoll instance when the platform has one and starts the
// event loop and heartbeat monitor. It does not listen; mount the Server as
// an http.Handler.
func (s *Server) Start() error {
	ep, err := NewEpoll()
	switch {
	case errors.Is(err, errEpollUnsupported):
		s.logger.Info("epoll unavailable, using a reader goroutine per connection")
	case err != nil:
		return err
	default:
		s.epoll = ep
		go s.startEventLoop()
	}

	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info("websocket server started",
		slog.Int("workers", s.config.WorkerPoolSize),
		slog.Int("max_conns", s.config.MaxConnections),
		slog.Duration("heartbeat", s.config.Heartbeat.Interval),
	)
	return nil
}

// ServeHTTP authenticates the upgrade request and, only if that succeeds,
// upgrades it and registers the connection. Authentication failures are
// answered with a plain HTTP error before any upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		apierr.WriteError(w, apierr.NewUnavailableError("server is shutting down"))
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		apierr.WriteError(w, apierr.NewUnavailableError("too many connections"))
		return
	}

	origin := auth.ClientOrigin(r, s.config.TrustProxy)
	ctx, cancel := context.WithTimeout(r.Context(), s.config.AuthTimeout)
	id, err := s.auth.Check(ctx, origin, auth.HandshakeToken(r))
	cancel()
	if err != nil {
		status := apierr.Status(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("handshake auth failed", slog.String("origin", origin), slog.Any("error", err))
		} else {
			s.logger.Debug("handshake rejected", slog.String("origin", origin), slog.Int("status", status))
		}
		apierr.WriteError(w, err)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	// Drop deadlines inherited from the HTTP server's timeouts.
	_ = conn.SetDeadline(time.Time{})

	s.Attach(conn, id)
}

// Attach registers an upgraded connection for id, greets it with
// session_created and announces the new online count.
func (s *Server) Attach(conn net.Conn, id *auth.Identity) *Connection {
	now := s.clock.Now()
	c := &Connection{
		ID:        uuid.NewString(),
		Conn:      conn,
		Fd:        socketFD(conn),
		ActorID:   id.Actor.ID,
		Pseudonym: id.Actor.Pseudonym,
		Avatar:    id.Actor.Avatar,
		TokenHash: id.TokenHash,
		ExpiresAt: id.ExpiresAt,
		CreatedAt: now,
		token:     id.Token,
		typing:    rate.NewLimiter(s.config.TypingRate, s.config.TypingBurst),
	}
	c.Touch(now)

	greeting, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
		UserID:    c.ActorID,
	})
	if err == nil {
		err = c.WriteMessageTimeout(greeting, s.config.WriteTimeout)
	}
	if err != nil {
		s.logger.Warn("send session_created failed", slog.String("conn", c.ID), slog.Any("error", err))
		_ = conn.Close()
		return nil
	}

	total := s.conns.Add(c)
	metrics.ConnectionsActive.Inc()

	s.watch(c)

	s.logger.Info("connection opened",
		slog.String("conn", c.ID),
		slog.String("actor", c.ActorID),
		slog.Int("total", total),
	)
	s.tryBroadcast(protocol.TypeOnlineCount, protocol.OnlineCountMsg{N: total}, "")
	return c
}

// watch hands the connection to epoll, or to its own reader goroutine when
// epoll cannot track it.
func (s *Server) watch(c *Connection) {
	if s.epoll != nil {
		err := s.epoll.Add(c.Fd)
		if err == nil {
			return
		}
		if !errors.Is(err, errEpollUnsupported) {
			s.logger.Warn("epoll add failed", slog.String("conn", c.ID), slog.Any("error", err))
			s.RemoveConnection(c)
			return
		}
	}
	go s.readLoop(c)
}

// startEventLoop runs the epoll wait loop, handing each ready connection to
// a worker bounded by the pool semaphore. The wait timeout bounds how long
// Shutdown takes to stop the loop.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		fds, err := s.epoll.Wait(epollWaitTimeout)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error("epoll wait failed", slog.Any("error", err))
			continue
		}

		for _, fd := range fds {
			c := s.conns.GetByFd(fd)
			if c == nil {
				continue
			}
			// Level-triggered epoll reports a fd again until it is read.
			if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
				continue
			}

			s.workerPool <- struct{}{}
			go func() {
				defer func() {
					atomic.StoreInt32(&c.processing, 0)
					<-s.workerPool
				}()
				s.readFrame(c, true)
			}()
		}
	}
}

// readLoop reads frames until the connection fails or is removed.
func (s *Server) readLoop(c *Connection) {
	for s.readFrame(c, false) {
	}
}

// readFrame reads and handles a single frame. It returns false once the
// connection has been removed.
func (s *Server) readFrame(c *Connection, polled bool) bool {
	if polled && s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
	if err != nil {
		// A timeout on a polled read means the readiness was stale; the
		// heartbeat handles dead connections.
		var netErr net.Error
		if polled && errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		s.RemoveConnection(c)
		return false
	}

	if polled {
		_ = c.Conn.SetReadDeadline(time.Time{})
	}

	// Any frame proves the connection is alive.
	c.Touch(s.clock.Now())

	if s.config.MaxFrameSize > 0 && header.Length > s.config.MaxFrameSize {
		s.logger.Warn("frame too large", slog.String("conn", c.ID), slog.Int64("length", header.Length))
		s.RemoveConnection(c)
		return false
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return false
		}
	}

	if header.OpCode.IsControl() {
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
			return false
		case ws.OpPing:
			if err := c.WritePong(data, s.config.WriteTimeout); err != nil {
				s.RemoveConnection(c)
				return false
			}
		}
		return true
	}

	if len(data) > 0 && s.onMessage != nil {
		s.onMessage(c, data)
	}
	return true
}

// RemoveConnection unregisters and closes c. Only the first call for a
// connection has any effect; it reports whether this call removed it.
func (s *Server) RemoveConnection(c *Connection) bool {
	if !s.release(c.ID) {
		return false
	}

	if c.isTyping.Load() {
		s.tryBroadcast(protocol.TypeUserStopTyping, protocol.UserStopTypingMsg{UserID: c.ActorID}, c.ID)
	}
	total := s.conns.Count()
	s.tryBroadcast(protocol.TypeOnlineCount, protocol.OnlineCountMsg{N: total}, "")

	s.logger.Info("connection closed",
		slog.String("conn", c.ID),
		slog.String("actor", c.ActorID),
		slog.Int("total", total),
	)
	return true
}

// release unregisters the connection, drops its fd from epoll and closes it,
// in that order. Only the caller that removed the connection touches the fd;
// after Close the kernel may hand it to a new connection.
func (s *Server) release(id string) bool {
	c := s.conns.Remove(id)
	if c == nil {
		return false
	}
	if s.epoll != nil {
		if err := s.epoll.Remove(c.Fd); err != nil {
			s.logger.Warn("epoll remove failed", slog.String("conn", c.ID), slog.Any("error", err))
		}
	}
	_ = c.Close()
	metrics.ConnectionsActive.Dec()
	return true
}

// DisconnectActor tells every live connection of actorID why it is being
// closed, then removes it. It returns how many connections it removed;
// calling it for an actor with no connections is a no-op.
func (s *Server) DisconnectActor(actorID, reason string) int {
	conns := s.conns.ActorConnections(actorID)
	if len(conns) == 0 {
		return 0
	}

	notice, err := newBannedEvent(reason)
	if err != nil {
		s.logger.Error("build banned event", slog.Any("error", err))
	}

	removed := 0
	for _, c := range conns {
		if notice != nil {
			_ = c.WriteMessageTimeout(notice, s.config.WriteTimeout)
		}
		if s.RemoveConnection(c) {
			removed++
		}
	}
	s.logger.Info("actor disconnected",
		slog.String("actor", actorID),
		slog.String("reason", reason),
		slog.Int("connections", removed),
	)
	return removed
}

// DisconnectCredential closes every live connection opened with the
// credential tokenHash. Other connections of the same actor stay open.
func (s *Server) DisconnectCredential(actorID, tokenHash, reason string) int {
	removed := 0
	for _, c := range s.conns.ActorConnections(actorID) {
		if tokenHash == "" || c.TokenHash != tokenHash {
			continue
		}
		s.DisconnectConnection(c, reason)
		removed++
	}
	return removed
}

func newBannedEvent(reason string) ([]byte, error) {
	return protocol.NewServerMessage(protocol.TypeBanned, protocol.BannedMsg{Reason: reason})
}

// ActorCredentials returns the distinct credentials held by the actor's
// live connections, so that they can be revoked.
func (s *Server) ActorCredentials(actorID string) []model.RevokedCredential {
	seen := make(map[string]bool)
	var creds []model.RevokedCredential
	for _, c := range s.conns.ActorConnections(actorID) {
		if c.TokenHash == "" || seen[c.TokenHash] {
			continue
		}
		seen[c.TokenHash] = true
		creds = append(creds, model.RevokedCredential{TokenHash: c.TokenHash, ExpiresAt: c.ExpiresAt})
	}
	return creds
}

// Broadcast encodes an event once and queues it for every live connection.
// Events are delivered in the order they were queued. Delivery to
// individual connections is best-effort: a failed write removes that
// connection and never surfaces here.
func (s *Server) Broadcast(ctx context.Context, msgType string, payload interface{}) error {
	return s.BroadcastExcept(ctx, "", msgType, payload)
}

// BroadcastExcept is Broadcast skipping the connection exceptID.
func (s *Server) BroadcastExcept(ctx context.Context, exceptID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}

	ev := outbound{data: data, except: exceptID, queued: time.Now()}
	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	select {
	case s.outbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrServerClosed
	}
}

// tryBroadcast queues an event without blocking. It is used from paths that
// may run on the fan-out goroutine itself.
func (s *Server) tryBroadcast(msgType string, payload interface{}, exceptID string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		s.logger.Error("build event", slog.String("type", msgType), slog.Any("error", err))
		return
	}
	select {
	case s.outbox <- outbound{data: data, except: exceptID, queued: time.Now()}:
	default:
		s.logger.Warn("outbox full, event dropped", slog.String("type", msgType))
	}
}

// fanout drains the outbox, writing each event to a snapshot of the
// registry.
func (s *Server) fanout() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.outbox:
			failed := s.conns.Broadcast(ev.data, ev.except, s.config.WriteTimeout)
			metrics.BroadcastLatency.Observe(time.Since(ev.queued).Seconds())
			for _, c := range failed {
				metrics.BroadcastDropsTotal.Inc()
				s.logger.Debug("dropping connection after failed write", slog.String("conn", c.ID))
				s.RemoveConnection(c)
			}
		}
	}
}

// send writes directly to one connection, bypassing the outbox.
func (s *Server) send(c *Connection, data []byte) {
	if err := c.WriteMessageTimeout(data, s.config.WriteTimeout); err != nil {
		s.logger.Debug("direct write failed", slog.String("conn", c.ID), slog.Any("error", err))
		s.RemoveConnection(c)
	}
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// OnlineCount returns the number of live connections.
func (s *Server) OnlineCount() int {
	return s.conns.Count()
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return s.clock.Now().Sub(s.startedAt)
}

func (s *Server) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Shutdown stops the loops and closes every connection. It is safe to call
// more than once.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		s.logger.Info("shutting down websocket server")
		close(s.done)

		for _, c := range s.conns.All() {
			s.release(c.ID)
		}

		if s.epoll != nil {
			_ = s.epoll.Close()
		}
		s.logger.Info("websocket server stopped")
	})
}
