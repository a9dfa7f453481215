package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/support-chat/internal/api"
	"github.com/whisper/support-chat/internal/api/apierr"
	"github.com/whisper/support-chat/internal/auth"
	"github.com/whisper/support-chat/internal/chat"
	"github.com/whisper/support-chat/internal/dependencies/mocks"
	"github.com/whisper/support-chat/internal/messaging"
	"github.com/whisper/support-chat/internal/model"
	"github.com/whisper/support-chat/internal/moderation"
	"github.com/whisper/support-chat/internal/ratelimit"
	"github.com/whisper/support-chat/internal/safety"
	"github.com/whisper/support-chat/internal/storage/memory"
	"github.com/whisper/support-chat/internal/ws"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	storage *memory.Storage
	issuer  *auth.Issuer
	sockets *ws.Server
	clock   *mocks.MockClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := mocks.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	limiter := ratelimit.NewWindow(clk)
	events := messaging.NewEvents(messaging.NopPublisher{}, logger)

	issuer := auth.NewIssuer([]byte("test-secret"), auth.DefaultIssuer, time.Hour, clk)
	authn := auth.NewAuthenticator(issuer, store, clk, logger)
	guard := auth.NewGuard(authn, limiter, events, clk, logger)

	sockets := ws.NewServer(ws.DefaultServerConfig(), guard, clk, logger)
	t.Cleanup(sockets.Shutdown)

	router := api.NewRouter(api.RouterConfig{
		Logger:     logger,
		Auth:       guard,
		Revoker:    authn,
		Chat:       chat.NewService(store, limiter, safety.NewDetector(), sockets, events, clk, logger),
		Moderation: moderation.NewService(store, sockets, authn, events, clk, logger),
		Sockets:    sockets,
		Store:      store,
		RoomID:     model.DefaultRoomID,
		Advisory:   ratelimit.RuleMessageSendAdvisory,
		Heartbeat:  30 * time.Second,
	})

	return &testServer{handler: router, storage: store, issuer: issuer, sockets: sockets, clock: clk}
}

// actor creates an actor and returns it with a fresh credential.
func (ts *testServer) actor(t *testing.T, pseudonym string, admin bool) (*model.Actor, string) {
	t.Helper()
	a := &model.Actor{
		ID:        uuid.NewString(),
		Pseudonym: pseudonym,
		Avatar:    "🌙",
		RealName:  "Real " + pseudonym,
		IsAdmin:   admin,
		CreatedAt: ts.clock.Now(),
	}
	require.NoError(t, ts.storage.CreateActor(context.Background(), a))
	token, _, err := ts.issuer.Issue(a.ID)
	require.NoError(t, err)
	return a, token
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		reqBody = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type messageBody struct {
	Message struct {
		ID        string `json:"id"`
		Content   string `json:"content"`
		AuthorID  string `json:"authorId"`
		Pseudonym string `json:"pseudonym"`
	} `json:"message"`
	Crisis bool `json:"crisis"`
}

func (ts *testServer) post(t *testing.T, token, content string) messageBody {
	t.Helper()
	rr := ts.request(http.MethodPost, "/messages", map[string]string{"content": content}, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[messageBody](t, rr)
}

// ---------------------------------------------------------------------------
// Public endpoints
// ---------------------------------------------------------------------------

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestClientConfig(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/client-config", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "general", body["roomId"])
	assert.Equal(t, float64(500), body["maxMessageLength"])
	assert.Equal(t, map[string]any{"limit": float64(10), "windowSeconds": float64(30)}, body["messageLimit"])
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "support_chat_")
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestAuth_Required(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "garbage"} {
		rr := ts.request(http.MethodGet, "/messages", nil, token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.NotEmpty(t, decodeBody[apierr.ErrorResponse](t, rr).Error)
	}
}

func TestAuth_BannedActorForbidden(t *testing.T) {
	ts := newTestServer(t)
	a, token := ts.actor(t, "owl", false)
	require.NoError(t, ts.storage.SetBanned(context.Background(), a.ID, true))

	rr := ts.request(http.MethodGet, "/me", nil, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAuth_RepeatedFailuresRateLimited(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	for i := 0; i < 10; i++ {
		rr := ts.request(http.MethodGet, "/me", nil, "bad-token")
		require.Equal(t, http.StatusUnauthorized, rr.Code, "attempt %d", i+1)
	}

	rr := ts.request(http.MethodGet, "/me", nil, "bad-token")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Valid credentials from the same origin are not affected.
	rr = ts.request(http.MethodGet, "/me", nil, token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMe_HidesRealIdentity(t *testing.T) {
	ts := newTestServer(t)
	a, token := ts.actor(t, "owl", false)

	rr := ts.request(http.MethodGet, "/me", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, a.ID, body["id"])
	assert.Equal(t, "owl", body["pseudonym"])
	assert.Equal(t, false, body["isAdmin"])
	assert.NotContains(t, rr.Body.String(), "Real owl")
}

func TestLogout_RevokesCredential(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	rr := ts.request(http.MethodPost, "/auth/logout", nil, token)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeRevoked, decodeBody[apierr.ErrorResponse](t, rr).Code)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestMessages_SendAndList(t *testing.T) {
	ts := newTestServer(t)
	a, token := ts.actor(t, "owl", false)

	first := ts.post(t, token, "hello <b>world</b>")
	assert.Equal(t, "hello world", first.Message.Content)
	assert.Equal(t, a.ID, first.Message.AuthorID)
	assert.Equal(t, "owl", first.Message.Pseudonym)
	assert.False(t, first.Crisis)

	ts.clock.Advance(time.Second)
	ts.post(t, token, "second")

	rr := ts.request(http.MethodGet, "/messages?limit=10", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[struct {
		Messages []map[string]any `json:"messages"`
	}](t, rr)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hello world", body.Messages[0]["content"])
	assert.Equal(t, "second", body.Messages[1]["content"])
}

func TestMessages_CrisisFlagged(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	res := ts.post(t, token, "Sometimes I want to die")
	assert.True(t, res.Crisis)
}

func TestMessages_BadInput(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", http.MethodPost, "/messages", "{not json", http.StatusBadRequest},
		{"empty content", http.MethodPost, "/messages", map[string]string{"content": "   "}, http.StatusUnprocessableEntity},
		{"markup only", http.MethodPost, "/messages", map[string]string{"content": "<p></p>"}, http.StatusUnprocessableEntity},
		{"too long", http.MethodPost, "/messages", map[string]string{"content": strings.Repeat("a", 501)}, http.StatusUnprocessableEntity},
		{"limit zero", http.MethodGet, "/messages?limit=0", nil, http.StatusBadRequest},
		{"limit too large", http.MethodGet, "/messages?limit=201", nil, http.StatusBadRequest},
		{"limit not a number", http.MethodGet, "/messages?limit=ten", nil, http.StatusBadRequest},
		{"malformed id", http.MethodPost, "/messages/not-an-id/react", nil, http.StatusBadRequest},
		{"unknown message", http.MethodPost, "/messages/" + uuid.NewString() + "/react", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.request(tc.method, tc.path, tc.body, token)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
		})
	}
}

func TestMessages_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	for i := 0; i < 20; i++ {
		ts.post(t, token, "message")
		ts.clock.Advance(time.Second)
	}

	rr := ts.request(http.MethodPost, "/messages", map[string]string{"content": "one more"}, token)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "40", rr.Header().Get("Retry-After"))
	assert.Equal(t, 40, decodeBody[apierr.ErrorResponse](t, rr).RetryAfter)
}

func TestMessages_ReactToggles(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.actor(t, "owl", false)
	_, bob := ts.actor(t, "fox", false)
	msg := ts.post(t, alice, "hello")

	path := "/messages/" + msg.Message.ID + "/react"
	rr := ts.request(http.MethodPost, path, nil, bob)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"added":true,"count":1}`, rr.Body.String())

	rr = ts.request(http.MethodPost, path, map[string]string{}, bob)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"added":false,"count":0}`, rr.Body.String())
}

func TestMessages_Report(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.actor(t, "owl", false)
	_, bob := ts.actor(t, "fox", false)
	msg := ts.post(t, alice, "hello")
	path := "/messages/" + msg.Message.ID + "/report"

	rr := ts.request(http.MethodPost, path, nil, alice)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodPost, path, map[string]string{"reason": "rude"}, bob)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody[map[string]map[string]any](t, rr)
	assert.Equal(t, "pending", body["report"]["status"])

	rr = ts.request(http.MethodPost, path, nil, bob)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMessages_Delete(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.actor(t, "owl", false)
	_, bob := ts.actor(t, "fox", false)
	msg := ts.post(t, alice, "hello")
	path := "/messages/" + msg.Message.ID

	rr := ts.request(http.MethodDelete, path, nil, bob)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodDelete, path, nil, alice)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = ts.request(http.MethodDelete, path, nil, alice)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/messages", nil, alice)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"messages":[]}`, rr.Body.String())

	rr = ts.request(http.MethodPost, path+"/react", nil, bob)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestAdmin_RequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	target, token := ts.actor(t, "owl", false)

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/admin/reports"},
		{http.MethodPatch, "/admin/reports/" + uuid.NewString()},
		{http.MethodPost, "/admin/users/" + target.ID + "/ban"},
		{http.MethodDelete, "/admin/users/" + target.ID + "/ban"},
	} {
		rr := ts.request(req.method, req.path, map[string]string{"status": "resolved"}, token)
		assert.Equal(t, http.StatusForbidden, rr.Code, "%s %s", req.method, req.path)
	}
}

func TestAdmin_ReportQueue(t *testing.T) {
	ts := newTestServer(t)
	_, alice := ts.actor(t, "owl", false)
	_, bob := ts.actor(t, "fox", false)
	_, mod := ts.actor(t, "warden", true)

	var reportIDs []string
	for _, text := range []string{"one", "two"} {
		msg := ts.post(t, alice, text)
		rr := ts.request(http.MethodPost, "/messages/"+msg.Message.ID+"/report", nil, bob)
		require.Equal(t, http.StatusCreated, rr.Code)
		reportIDs = append(reportIDs, decodeBody[map[string]map[string]any](t, rr)["report"]["id"].(string))
		ts.clock.Advance(time.Minute)
	}

	rr := ts.request(http.MethodPatch, "/admin/reports/"+reportIDs[1], map[string]string{"status": "resolved"}, mod)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decodeBody[map[string]any](t, rr)["changed"])

	rr = ts.request(http.MethodPatch, "/admin/reports/"+reportIDs[1], map[string]string{"status": "rejected"}, mod)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeBody[map[string]any](t, rr)["changed"])

	rr = ts.request(http.MethodPatch, "/admin/reports/"+reportIDs[0], map[string]string{"status": "archived"}, mod)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodGet, "/admin/reports", nil, mod)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decodeBody[model.ReportPage](t, rr)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Reports, 2)
	assert.Equal(t, reportIDs[0], page.Reports[0].ID)
	assert.Equal(t, model.ReportPending, page.Reports[0].Status)
	assert.Equal(t, "one", page.Reports[0].MessageContent)

	rr = ts.request(http.MethodGet, "/admin/reports?status=resolved&limit=1&page=1", nil, mod)
	require.Equal(t, http.StatusOK, rr.Code)
	page = decodeBody[model.ReportPage](t, rr)
	assert.Equal(t, 1, page.Total)

	for _, q := range []string{"?status=open", "?page=0", "?limit=101"} {
		rr = ts.request(http.MethodGet, "/admin/reports"+q, nil, mod)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestAdmin_BanAndUnban(t *testing.T) {
	ts := newTestServer(t)
	target, targetToken := ts.actor(t, "owl", false)
	modActor, mod := ts.actor(t, "warden", true)

	rr := ts.request(http.MethodPost, "/admin/users/"+modActor.ID+"/ban", nil, mod)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodPost, "/admin/users/"+uuid.NewString()+"/ban", nil, mod)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.request(http.MethodPost, "/admin/users/"+target.ID+"/ban", nil, mod)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"userId":"`+target.ID+`","banned":true,"disconnected":0}`, rr.Body.String())

	rr = ts.request(http.MethodPost, "/messages", map[string]string{"content": "hi"}, targetToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ts.request(http.MethodDelete, "/admin/users/"+target.ID+"/ban", nil, mod)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.request(http.MethodGet, "/me", nil, targetToken)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebSocket_RejectsMissingCredential(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/ws", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnknownRoutesUseErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.actor(t, "owl", false)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound, apierr.CodeNotFound},
		{"wrong method", http.MethodPut, "/messages", http.StatusMethodNotAllowed, apierr.CodeMethodNotAllowed},
		{"wrong method on public route", http.MethodPost, "/health", http.StatusMethodNotAllowed, apierr.CodeMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.request(tc.method, tc.path, nil, token)
			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			body := decodeBody[apierr.ErrorResponse](t, rr)
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

// ---------------------------------------------------------------------------
// Live connections
// ---------------------------------------------------------------------------

// liveClient is the client end of a piped connection attached to the
// test server's registry.
type liveClient struct {
	conn   net.Conn
	events chan map[string]any
}

func (ts *testServer) connect(t *testing.T, actor *model.Actor, token string) *liveClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })

	c := &liveClient{conn: clientSide, events: make(chan map[string]any, 64)}
	go func() {
		defer close(c.events)
		for {
			data, _, err := wsutil.ReadServerData(clientSide)
			if err != nil {
				return
			}
			var ev map[string]any
			if json.Unmarshal(data, &ev) == nil {
				c.events <- ev
			}
		}
	}()

	require.NotNil(t, ts.sockets.Attach(serverSide, &auth.Identity{
		Actor:     actor,
		Token:     token,
		TokenHash: auth.HashToken(token),
		ExpiresAt: ts.clock.Now().Add(time.Hour),
	}))
	c.next(t, "session_created", nil)
	return c
}

// next returns the first event of type typ for which match reports true,
// skipping everything before it.
func (c *liveClient) next(t *testing.T, typ string, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.events:
			require.True(t, ok, "connection closed while waiting for %q", typ)
			if ev["type"] == typ && (match == nil || match(ev)) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

// until collects every event received before the first one of type typ.
func (c *liveClient) until(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var seen []map[string]any
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.events:
			require.True(t, ok, "connection closed while waiting for %q", typ)
			if ev["type"] == typ {
				return seen
			}
			seen = append(seen, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

func onlineCount(n int) func(map[string]any) bool {
	return func(ev map[string]any) bool { return ev["n"] == float64(n) }
}

func TestLive_MessageDeliveredOnceToEveryConnection(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.actor(t, "owl", false)
	bob, bobToken := ts.actor(t, "fox", false)

	aliceConn := ts.connect(t, alice, aliceToken)
	bobConn := ts.connect(t, bob, bobToken)

	sent := ts.post(t, aliceToken, "hello there")

	// A reaction queued after the message marks the end of its fan-out.
	rr := ts.request(http.MethodPost, "/messages/"+sent.Message.ID+"/react", map[string]string{"emoji": "❤️"}, bobToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	for name, c := range map[string]*liveClient{"alice": aliceConn, "bob": bobConn} {
		var delivered []map[string]any
		for _, ev := range c.until(t, "reaction_update") {
			if ev["type"] == "new_message" {
				delivered = append(delivered, ev)
			}
		}
		require.Len(t, delivered, 1, name)
		assert.Equal(t, sent.Message.ID, delivered[0]["id"], name)
		assert.Equal(t, "hello there", delivered[0]["content"], name)
		assert.Equal(t, alice.ID, delivered[0]["authorId"], name)
	}
}

func TestLive_BanEvictsConnection(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.actor(t, "owl", false)
	bob, bobToken := ts.actor(t, "fox", false)
	_, mod := ts.actor(t, "warden", true)

	aliceConn := ts.connect(t, alice, aliceToken)
	bobConn := ts.connect(t, bob, bobToken)
	aliceConn.next(t, "online_count", onlineCount(2))
	require.Equal(t, 2, ts.sockets.OnlineCount())

	rr := ts.request(http.MethodPost, "/admin/users/"+bob.ID+"/ban", nil, mod)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"userId":"`+bob.ID+`","banned":true,"disconnected":1}`, rr.Body.String())

	banned := bobConn.next(t, "banned", nil)
	assert.Equal(t, ws.ReasonBanned, banned["reason"])
	for range bobConn.events {
	}

	aliceConn.next(t, "online_count", onlineCount(1))
	ev := aliceConn.next(t, "user_banned", nil)
	assert.Equal(t, bob.ID, ev["userId"])
	assert.Equal(t, 1, ts.sockets.OnlineCount())

	rr = ts.request(http.MethodGet, "/me", nil, bobToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
