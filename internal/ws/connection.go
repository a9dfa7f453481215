package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"
)

// Connection is one live, authenticated WebSocket session. The actor
// snapshot and credential are fixed at handshake; banned and admin flags
// are never cached here.
type Connection struct {
	ID        string    // connection id (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups, -1 when unknown
	ActorID   string    // authenticated actor
	Pseudonym string    // public name shown in typing events
	Avatar    string    // public glyph
	TokenHash string    // sha256 of the handshake credential
	ExpiresAt time.Time // credential expiry
	CreatedAt time.Time // when the connection was established

	token        string        // handshake credential, kept for revalidation
	lastActivity atomic.Int64  // unix nanos of the last frame read
	typing       *rate.Limiter // throttles typing relays
	isTyping     atomic.Bool
	writeMu      sync.Mutex // serializes writes to this connection
	processing   int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// Touch records client activity at t.
func (c *Connection) Touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// LastActivity returns when the client was last heard from.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// WriteMessageTimeout writes a text frame with a write deadline, clearing it
// afterwards so it does not leak into later writes.
func (c *Connection) WriteMessageTimeout(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing(timeout time.Duration) error {
	return c.writeFrame(ws.NewPingFrame(nil), timeout)
}

// WritePong answers a client ping frame with the same payload.
func (c *Connection) WritePong(payload []byte, timeout time.Duration) error {
	return c.writeFrame(ws.NewPongFrame(payload), timeout)
}

func (c *Connection) writeFrame(f ws.Frame, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, f)
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is the registry of live connections, indexed by
// connection id, file descriptor and actor id. Locks guard map operations
// only; no I/O happens while one is held.
type ConnectionManager struct {
	mu      sync.RWMutex
	byID    map[string]*Connection            // connection id -> Connection
	byFd    map[int]*Connection               // fd -> Connection
	byActor map[string]map[string]*Connection // actor id -> connection id -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:    make(map[string]*Connection),
		byFd:    make(map[int]*Connection),
		byActor: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection and returns the new total.
func (cm *ConnectionManager) Add(conn *Connection) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.byID[conn.ID] = conn
	if conn.Fd >= 0 {
		cm.byFd[conn.Fd] = conn
	}
	set, ok := cm.byActor[conn.ActorID]
	if !ok {
		set = make(map[string]*Connection)
		cm.byActor[conn.ActorID] = set
	}
	set[conn.ID] = conn
	return len(cm.byID)
}

// Remove unregisters a connection by id and returns it, or nil if it was
// already gone. Only one caller ever gets the connection back; that caller
// owns releasing its fd and closing it.
func (cm *ConnectionManager) Remove(id string) *Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.byID[id]
	if !ok {
		return nil
	}
	delete(cm.byID, id)
	if conn.Fd >= 0 && cm.byFd[conn.Fd] == conn {
		delete(cm.byFd, conn.Fd)
	}
	if set := cm.byActor[conn.ActorID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(cm.byActor, conn.ActorID)
		}
	}
	return conn
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	if fd < 0 {
		return nil
	}
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// Count returns the number of live connections. This is the online count.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// ActorConnections returns a snapshot of the actor's live connections.
func (cm *ConnectionManager) ActorConnections(actorID string) []*Connection {
	cm.mu.RLock()
	set := cm.byActor[actorID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// Broadcast writes msg to every connection except exceptID and returns the
// connections whose write failed. The caller decides what to do with them.
func (cm *ConnectionManager) Broadcast(msg []byte, exceptID string, timeout time.Duration) []*Connection {
	var failed []*Connection
	for _, conn := range cm.All() {
		if conn.ID == exceptID {
			continue
		}
		if err := conn.WriteMessageTimeout(msg, timeout); err != nil {
			failed = append(failed, conn)
		}
	}
	return failed
}
