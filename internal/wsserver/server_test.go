package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/potluck/internal/authz"
	"github.com/roach88/potluck/internal/dispatch"
	"github.com/roach88/potluck/internal/metrics"
	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
	"github.com/roach88/potluck/internal/testutil"
)

type env struct {
	srv      *Server
	http     *httptest.Server
	store    *store.Store
	sessions *session.Registry
	reg      *prometheus.Registry
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	s := testutil.NewStore(t, nil)
	testutil.SeedIdentities(t, s, 3)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	sessions := session.NewRegistry(session.WithGauge(m.Sessions))
	d := dispatch.New(s, authz.New(s), sessions, dispatch.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]Option{WithGatherer(reg)}, opts...)
	srv := New(Config{PongWait: 5 * time.Second}, d, sessions, opts...)
	hs := httptest.NewServer(srv.Handler(ctx))

	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
		cancel()
		hs.Close()
	})
	return &env{srv: srv, http: hs, store: s, sessions: sessions, reg: reg}
}

func (e *env) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) string {
	t.Helper()
	write(t, conn, frame)
	return read(t, conn)
}

func tagged(token int64, command string, peer int64) string {
	return fmt.Sprintf(`{"token":"%d","command":%q,"payload":{"peer_user_id":%d}}`, token, command, peer)
}

func TestPingPong(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")

	assert.Equal(t, "pong", roundTrip(t, conn, "ping"))
	assert.Equal(t, "pong", roundTrip(t, conn, "ping"))
}

func TestFriendshipOverTheWire(t *testing.T) {
	e := newEnv(t)
	one := e.dial(t, "?token=1")
	two := e.dial(t, "")

	require.Eventually(t, func() bool { return e.sessions.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, `{"command":"request_friend","payload":{"peer_user_id":1}}`,
		roundTrip(t, two, tagged(2, dispatch.CmdRequestFriend, 1)))
	assert.Equal(t, `{"command":"request_friend","payload":{"peer_user_id":2}}`, read(t, one))

	assert.Equal(t, `{"command":"add_friend","payload":{"peer_user_id":2}}`,
		roundTrip(t, one, tagged(1, dispatch.CmdAddFriend, 2)))
	assert.Equal(t, `{"command":"add_friend","payload":{"peer_user_id":1}}`, read(t, two))

	ctx := context.Background()
	for _, p := range [][2]int64{{1, 2}, {2, 1}} {
		ok, err := e.store.HasEdge(ctx, store.Friend, p[0], p[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}

	write(t, one, `{"token":"1","command":"message_friend","payload":{"peer_user_id":2,"message":"hello"}}`)
	assert.Equal(t, `{"command":"message_friend","payload":{"peer_user_id":1,"message":"hello"}}`, read(t, two))
	assert.Equal(t, `{"command":"message_friend","payload":{"peer_user_id":2,"delivered":true}}`, read(t, one))
}

func TestUpgradeTokenRejected(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "?token=abc")

	assert.Equal(t, `{"error":"invalid_token"}`, read(t, conn))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSignOutClosesConnection(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")

	assert.Equal(t, `{"command":"sign_out","payload":{}}`, roundTrip(t, conn, `{"token":"2","command":"sign_out"}`))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return e.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectReleasesSession(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")
	roundTrip(t, conn, tagged(3, dispatch.CmdGetRequests, 0))
	require.Equal(t, 1, e.sessions.Len())

	conn.Close()
	assert.Eventually(t, func() bool { return e.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesClients(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "?token=1")
	assert.Equal(t, "pong", roundTrip(t, conn, "ping"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.srv.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, e.sessions.Len())
}

func TestHealthz(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		e := newEnv(t, WithHealthCheck(func(context.Context) error { return nil }))

		resp, err := http.Get(e.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var h health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.Equal(t, "ok", h.Status)
	})

	t.Run("store down", func(t *testing.T) {
		e := newEnv(t, WithHealthCheck(func(context.Context) error { return errors.New("store is shut down") }))

		resp, err := http.Get(e.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var h health
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
		assert.Equal(t, "unavailable", h.Status)
		assert.Equal(t, "store is shut down", h.Error)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, "")
	roundTrip(t, conn, "ping")

	resp, err := http.Get(e.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `potluck_ws_frames_total{kind="ping"} 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := testutil.NewStore(t, nil)
	sessions := session.NewRegistry()
	d := dispatch.New(s, authz.New(s), sessions)
	srv := New(Config{Addr: "127.0.0.1:0"}, d, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := withDefaults(Config{})
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod())
}
