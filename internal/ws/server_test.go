package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/dependencies/mocks"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/protocol"
)

const eventTimeout = 2 * time.Second

// fakeAuth resolves tokens from a table. revalidate holds the error a
// token's next revalidation should return.
type fakeAuth struct {
	mu         sync.Mutex
	identities map[string]*auth.Identity
	reject     map[string]error
	revalidate map[string]error
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		identities: make(map[string]*auth.Identity),
		reject:     make(map[string]error),
		revalidate: make(map[string]error),
	}
}

func (f *fakeAuth) Check(_ context.Context, _, token string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.reject[token]; ok {
		return nil, err
	}
	id, ok := f.identities[token]
	if !ok {
		return nil, model.ErrUnauthenticated
	}
	return id, nil
}

func (f *fakeAuth) Revalidate(_ context.Context, token string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.revalidate[token]; err != nil {
		return nil, err
	}
	return f.identities[token], nil
}

func (f *fakeAuth) setRevalidate(token string, err error) {
	f.mu.Lock()
	f.revalidate[token] = err
	f.mu.Unlock()
}

// testClient is the client end of a connection.
type testClient struct {
	conn   net.Conn
	server *Connection
	token  string
	events chan map[string]interface{}
}

func (tc *testClient) read(r io.Reader) {
	defer close(tc.events)
	rw := struct {
		io.Reader
		io.Writer
	}{r, tc.conn}
	for {
		data, _, err := wsutil.ReadServerData(rw)
		if err != nil {
			return
		}
		var ev map[string]interface{}
		if json.Unmarshal(data, &ev) == nil {
			tc.events <- ev
		}
	}
}

func (tc *testClient) send(t *testing.T, frame string) {
	t.Helper()
	if err := wsutil.WriteClientText(tc.conn, []byte(frame)); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

// waitFor returns the next event of type typ, skipping others.
func (tc *testClient) waitFor(t *testing.T, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", typ)
			}
			if ev["type"] == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

// collectUntil returns the types received before the first event of type
// marker.
func (tc *testClient) collectUntil(t *testing.T, marker string) []map[string]interface{} {
	t.Helper()
	var seen []map[string]interface{}
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				t.Fatalf("connection closed while waiting for %q", marker)
			}
			if ev["type"] == marker {
				return seen
			}
			seen = append(seen, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %q", marker)
		}
	}
}

// waitClosed drains events until the server closes the connection.
func (tc *testClient) waitClosed(t *testing.T) []map[string]interface{} {
	t.Helper()
	var seen []map[string]interface{}
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				return seen
			}
			seen = append(seen, ev)
		case <-deadline:
			t.Fatal("timed out waiting for close")
		}
	}
}

type ServerSuite struct {
	suite.Suite
	clock   *mocks.MockClock
	authn   *fakeAuth
	srv     *Server
	clients []*testClient
	seq     int
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.authn = newFakeAuth()
	s.clients = nil

	cfg := DefaultServerConfig()
	cfg.WriteTimeout = time.Second
	cfg.TypingRate = rate.Every(time.Hour)
	cfg.TypingBurst = 2
	s.srv = NewServer(cfg, s.authn, s.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	d := NewMessageDispatcher(s.srv)
	s.srv.RegisterPresenceHandlers(d)
	s.srv.SetMessageHandler(d.Dispatch)
}

func (s *ServerSuite) TearDownTest() {
	s.srv.Shutdown()
	for _, c := range s.clients {
		c.conn.Close()
	}
}

func (s *ServerSuite) identity(actorID string) *auth.Identity {
	s.seq++
	token := fmt.Sprintf("tok-%s-%d", actorID, s.seq)
	id := &auth.Identity{
		Actor:     &model.Actor{ID: actorID, Pseudonym: actorID + "_p", Avatar: "🌙"},
		Token:     token,
		TokenHash: auth.HashToken(token),
		ExpiresAt: s.clock.Now().Add(time.Hour),
	}
	s.authn.mu.Lock()
	s.authn.identities[token] = id
	s.authn.mu.Unlock()
	return id
}

// connect attaches a piped connection for actorID and consumes its
// session_created event.
func (s *ServerSuite) connect(actorID string) *testClient {
	return s.connectWith(s.identity(actorID))
}

func (s *ServerSuite) connectWith(id *auth.Identity) *testClient {
	serverSide, clientSide := net.Pipe()
	tc := &testClient{conn: clientSide, token: id.Token, events: make(chan map[string]interface{}, 128)}
	go tc.read(clientSide)

	tc.server = s.srv.Attach(serverSide, id)
	s.Require().NotNil(tc.server)
	s.clients = append(s.clients, tc)

	ev := tc.waitFor(s.T(), protocol.TypeSessionCreated)
	s.Equal(tc.server.ID, ev["sessionId"])
	s.Equal(id.Actor.ID, ev["userId"])
	return tc
}

// ---------------------------------------------------------------------------
// Registry and online count
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestAttach_AnnouncesOnlineCount() {
	alice := s.connect("alice")
	s.Equal(float64(1), alice.waitFor(s.T(), protocol.TypeOnlineCount)["n"])

	bob := s.connect("bob")
	s.Equal(float64(2), bob.waitFor(s.T(), protocol.TypeOnlineCount)["n"])
	s.Equal(float64(2), alice.waitFor(s.T(), protocol.TypeOnlineCount)["n"])
	s.Equal(2, s.srv.OnlineCount())

	bob.conn.Close()
	s.Equal(float64(1), alice.waitFor(s.T(), protocol.TypeOnlineCount)["n"])
	s.Eventually(func() bool { return s.srv.OnlineCount() == 1 }, eventTimeout, 10*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Broadcast
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestBroadcast_EveryConnectionOnce() {
	alice := s.connect("alice")
	bob := s.connect("bob")

	view := model.MessageView{Message: model.Message{ID: "m1", AuthorID: "alice", Content: "hello"}}
	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypeNewMessage, protocol.NewMessageMsg{MessageView: view}))
	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypePong, nil))

	for _, c := range []*testClient{alice, bob} {
		var got []map[string]interface{}
		for _, ev := range c.collectUntil(s.T(), protocol.TypePong) {
			if ev["type"] == protocol.TypeNewMessage {
				got = append(got, ev)
			}
		}
		s.Require().Len(got, 1)
		s.Equal("m1", got[0]["id"])
		s.Equal("hello", got[0]["content"])
	}
}

func (s *ServerSuite) TestBroadcast_PreservesOrder() {
	alice := s.connect("alice")

	for i := 0; i < 20; i++ {
		s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypeReactionUpdate,
			protocol.ReactionUpdateMsg{MessageID: "m1", Count: i}))
	}
	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypePong, nil))

	next := 0
	for _, ev := range alice.collectUntil(s.T(), protocol.TypePong) {
		if ev["type"] != protocol.TypeReactionUpdate {
			continue
		}
		s.Equal(float64(next), ev["count"])
		next++
	}
	s.Equal(20, next)
}

func (s *ServerSuite) TestBroadcast_DeadConnectionRemoved() {
	alice := s.connect("alice")
	carol := s.connect("carol")
	carol.conn.Close()

	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{MessageID: "m1"}))
	alice.waitFor(s.T(), protocol.TypeMessageDeleted)
	s.Eventually(func() bool { return s.srv.OnlineCount() == 1 }, eventTimeout, 10*time.Millisecond)
}

func (s *ServerSuite) TestBroadcast_AfterShutdown() {
	s.srv.Shutdown()
	err := s.srv.Broadcast(context.Background(), protocol.TypePong, nil)
	s.ErrorIs(err, ErrServerClosed)
}

// ---------------------------------------------------------------------------
// Forced disconnect
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestDisconnectActor() {
	a1 := s.connect("alice")
	a2 := s.connect("alice")
	bob := s.connect("bob")
	s.Equal(3, s.srv.OnlineCount())

	s.Equal(2, s.srv.DisconnectActor("alice", ReasonBanned))
	s.Equal(1, s.srv.OnlineCount())
	s.Empty(s.srv.Connections().ActorConnections("alice"))

	for _, c := range []*testClient{a1, a2} {
		var reasons []interface{}
		for _, ev := range c.waitClosed(s.T()) {
			if ev["type"] == protocol.TypeBanned {
				reasons = append(reasons, ev["reason"])
			}
		}
		s.Equal([]interface{}{ReasonBanned}, reasons)
	}

	// bob sees the count fall back to one.
	for {
		ev := bob.waitFor(s.T(), protocol.TypeOnlineCount)
		if ev["n"] == float64(1) {
			break
		}
	}

	s.Zero(s.srv.DisconnectActor("alice", ReasonBanned))
	s.Zero(s.srv.DisconnectActor("nobody", ReasonBanned))
}

func (s *ServerSuite) TestActorCredentials() {
	id := s.identity("alice")
	s.connectWith(id)
	s.connectWith(id)
	other := s.connect("alice")

	creds := s.srv.ActorCredentials("alice")
	s.Len(creds, 2)
	hashes := map[string]bool{}
	for _, c := range creds {
		hashes[c.TokenHash] = true
		s.True(c.ExpiresAt.After(s.clock.Now()))
	}
	s.True(hashes[id.TokenHash])
	s.True(hashes[other.server.TokenHash])
	s.Empty(s.srv.ActorCredentials("bob"))
}

func (s *ServerSuite) TestDisconnectCredential() {
	id := s.identity("alice")
	a1 := s.connectWith(id)
	a2 := s.connectWith(id)
	other := s.connect("alice")

	s.Equal(2, s.srv.DisconnectCredential("alice", id.TokenHash, ReasonLoggedOut))
	for _, c := range []*testClient{a1, a2} {
		var reasons []interface{}
		for _, ev := range c.waitClosed(s.T()) {
			if ev["type"] == protocol.TypeBanned {
				reasons = append(reasons, ev["reason"])
			}
		}
		s.Equal([]interface{}{ReasonLoggedOut}, reasons)
	}

	s.Equal([]*Connection{other.server}, s.srv.Connections().ActorConnections("alice"))
	s.Zero(s.srv.DisconnectCredential("alice", "", ReasonLoggedOut))
	s.Zero(s.srv.DisconnectCredential("bob", other.server.TokenHash, ReasonLoggedOut))
}

// ---------------------------------------------------------------------------
// Heartbeat
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestHeartbeat_EvictsSilentConnections() {
	alice := s.connect("alice")
	cfg := DefaultHeartbeatConfig()

	s.clock.Advance(cfg.Interval + cfg.Timeout + time.Second)
	checkConnections(s.srv, cfg)
	s.Equal(0, s.srv.OnlineCount())
	alice.waitClosed(s.T())
}

func (s *ServerSuite) TestHeartbeat_PingsLiveConnections() {
	s.connect("alice")
	cfg := DefaultHeartbeatConfig()

	s.clock.Advance(cfg.Interval)
	checkConnections(s.srv, cfg)
	s.Equal(1, s.srv.OnlineCount())
}

func (s *ServerSuite) TestHeartbeat_RevalidatesCredentials() {
	alice := s.connect("alice")
	bob := s.connect("bob")
	s.authn.setRevalidate(alice.token, model.ErrForbidden)

	checkConnections(s.srv, DefaultHeartbeatConfig())

	var banned []map[string]interface{}
	for _, ev := range alice.waitClosed(s.T()) {
		if ev["type"] == protocol.TypeBanned {
			banned = append(banned, ev)
		}
	}
	s.Require().Len(banned, 1)
	s.Equal(ReasonBanned, banned[0]["reason"])
	s.Equal(1, s.srv.OnlineCount())
	s.NotNil(s.srv.Connections().Get(bob.server.ID))
}

func (s *ServerSuite) TestHeartbeat_StoreFaultKeepsConnection() {
	alice := s.connect("alice")
	s.authn.setRevalidate(alice.token, context.DeadlineExceeded)

	checkConnections(s.srv, DefaultHeartbeatConfig())
	s.Equal(1, s.srv.OnlineCount())
}

func (s *ServerSuite) TestRevalidate_Reasons() {
	alice := s.connect("alice")
	cases := map[error]string{
		model.ErrForbidden:         ReasonBanned,
		model.ErrRevokedCredential: ReasonRevoked,
		model.ErrUnauthenticated:   ReasonSessionExpired,
	}
	for err, want := range cases {
		s.authn.setRevalidate(alice.token, err)
		s.Equal(want, s.srv.revalidate(alice.server))
	}
	s.authn.setRevalidate(alice.token, nil)
	s.Equal("", s.srv.revalidate(alice.server))
}

// ---------------------------------------------------------------------------
// Client events
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestPingPong() {
	alice := s.connect("alice")
	alice.send(s.T(), `{"type":"ping"}`)
	alice.waitFor(s.T(), protocol.TypePong)
}

func (s *ServerSuite) TestTypingRelayedToOthers() {
	alice := s.connect("alice")
	bob := s.connect("bob")

	alice.send(s.T(), `{"type":"typing"}`)
	ev := bob.waitFor(s.T(), protocol.TypeUserTyping)
	s.Equal("alice", ev["userId"])
	s.Equal("alice_p", ev["pseudonym"])

	alice.send(s.T(), `{"type":"stop_typing"}`)
	ev = bob.waitFor(s.T(), protocol.TypeUserStopTyping)
	s.Equal("alice", ev["userId"])

	// The sender never sees its own indicator.
	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypePong, nil))
	for _, ev := range alice.collectUntil(s.T(), protocol.TypePong) {
		s.NotEqual(protocol.TypeUserTyping, ev["type"])
		s.NotEqual(protocol.TypeUserStopTyping, ev["type"])
	}
}

func (s *ServerSuite) TestTypingThrottled() {
	alice := s.connect("alice")
	bob := s.connect("bob")

	for i := 0; i < 10; i++ {
		alice.send(s.T(), `{"type":"typing"}`)
	}
	alice.send(s.T(), `{"type":"ping"}`)
	for _, ev := range alice.collectUntil(s.T(), protocol.TypePong) {
		s.NotEqual(protocol.TypeError, ev["type"], "throttled typing is dropped without a reply")
	}

	s.Require().NoError(s.srv.Broadcast(context.Background(), protocol.TypePong, nil))
	relayed := 0
	for _, ev := range bob.collectUntil(s.T(), protocol.TypePong) {
		if ev["type"] == protocol.TypeUserTyping {
			relayed++
		}
	}
	s.Equal(2, relayed)
}

func (s *ServerSuite) TestStopTypingOnDisconnect() {
	alice := s.connect("alice")
	bob := s.connect("bob")

	alice.send(s.T(), `{"type":"typing"}`)
	bob.waitFor(s.T(), protocol.TypeUserTyping)

	alice.conn.Close()
	ev := bob.waitFor(s.T(), protocol.TypeUserStopTyping)
	s.Equal("alice", ev["userId"])
}

func (s *ServerSuite) TestUnsupportedClientEvents() {
	alice := s.connect("alice")

	for _, frame := range []string{
		`{"type":"message","content":"injected"}`,
		`{"type":"new_message","id":"x","content":"spoofed"}`,
	} {
		alice.send(s.T(), frame)
		ev := alice.waitFor(s.T(), protocol.TypeError)
		s.Equal(protocol.CodeUnsupportedType, ev["code"])
	}

	alice.send(s.T(), `not json`)
	ev := alice.waitFor(s.T(), protocol.TypeError)
	s.Equal(protocol.CodeBadMessage, ev["code"])
	s.Equal(1, s.srv.OnlineCount())
}

func (s *ServerSuite) TestOversizedFrameCloses() {
	alice := s.connect("alice")
	// The server closes mid-frame, so the write itself may fail.
	_ = wsutil.WriteClientText(alice.conn, []byte(`{"type":"typing","pad":"`+strings.Repeat("x", 5000)+`"}`))
	alice.waitClosed(s.T())
	s.Eventually(func() bool { return s.srv.OnlineCount() == 0 }, eventTimeout, 10*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

func (s *ServerSuite) TestHandshake_RejectedBeforeUpgrade() {
	s.authn.reject["banned"] = model.ErrForbidden
	s.authn.reject["revoked"] = model.ErrRevokedCredential
	s.authn.reject["flood"] = &model.RateLimitError{Action: "auth-attempt", RetryAfter: 90 * time.Second}

	cases := []struct {
		token  string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"unknown", http.StatusUnauthorized},
		{"revoked", http.StatusUnauthorized},
		{"banned", http.StatusForbidden},
		{"flood", http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		s.Run(tc.token, func() {
			r := httptest.NewRequest(http.MethodGet, "/ws?token="+tc.token, nil)
			r.Header.Set("Connection", "Upgrade")
			r.Header.Set("Upgrade", "websocket")
			w := httptest.NewRecorder()

			s.srv.ServeHTTP(w, r)

			s.Equal(tc.status, w.Code)
			var body map[string]interface{}
			s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
			s.NotEmpty(body["error"])
		})
	}
	s.Equal("90", func() string {
		w := httptest.NewRecorder()
		s.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=flood", nil))
		return w.Header().Get("Retry-After")
	}())
	s.Zero(s.srv.OnlineCount())
}

func (s *ServerSuite) TestHandshake_Upgrade() {
	id := s.identity("alice")
	hs := httptest.NewServer(s.srv)
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws?token=" + id.Token
	conn, br, _, err := ws.Dial(context.Background(), url)
	s.Require().NoError(err)
	defer conn.Close()

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
		defer ws.PutReader(br)
	}
	tc := &testClient{conn: conn, events: make(chan map[string]interface{}, 16)}
	go tc.read(bufio.NewReader(r))

	ev := tc.waitFor(s.T(), protocol.TypeSessionCreated)
	s.Equal("alice", ev["userId"])
	s.Eventually(func() bool { return s.srv.OnlineCount() == 1 }, eventTimeout, 10*time.Millisecond)

	tc.send(s.T(), `{"type":"ping"}`)
	tc.waitFor(s.T(), protocol.TypePong)
}
