package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Syaminata/ticketaf-sub000/internal/auth"
	"github.com/Syaminata/ticketaf-sub000/internal/logger"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func fakeClient(h *Hub, id, userID string) *Client {
	return &Client{ID: id, UserID: userID, send: make(chan []byte, 4), hub: h}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := startHub(t)
	c := fakeClient(h, "c1", "user-1")

	h.Register(c)
	waitFor(t, func() bool { return h.Online("user-1") })

	h.Unregister(c)
	waitFor(t, func() bool { return !h.Online("user-1") })

	_, open := <-c.send
	assert.False(t, open, "send channel should be closed on unregister")
}

func TestHub_SendToUsersReachesEverySession(t *testing.T) {
	h := startHub(t)
	phone := fakeClient(h, "c1", "user-1")
	laptop := fakeClient(h, "c2", "user-1")
	other := fakeClient(h, "c3", "user-2")
	for _, c := range []*Client{phone, laptop, other} {
		h.Register(c)
	}
	waitFor(t, func() bool { return h.Online("user-1") && h.Online("user-2") })

	h.SendToUsers([]string{"user-1"}, "notification", map[string]string{"message_id": "m1"})

	for _, c := range []*Client{phone, laptop} {
		select {
		case raw := <-c.send:
			var env struct {
				Type string            `json:"type"`
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(raw, &env))
			assert.Equal(t, "notification", env.Type)
			assert.Equal(t, "m1", env.Data["message_id"])
		case <-time.After(time.Second):
			t.Fatalf("client %s got nothing", c.ID)
		}
	}

	select {
	case <-other.send:
		t.Fatal("user-2 should not receive user-1's message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowConsumerDoesNotBlock(t *testing.T) {
	h := startHub(t)
	slow := &Client{ID: "slow", UserID: "u", send: make(chan []byte), hub: h}
	fast := fakeClient(h, "fast", "v")
	h.Register(slow)
	h.Register(fast)
	waitFor(t, func() bool { return h.Online("u") && h.Online("v") })

	h.SendToUsers([]string{"u", "v"}, "notification", nil)

	select {
	case <-fast.send:
	case <-time.After(time.Second):
		t.Fatal("a slow client must not block delivery to others")
	}
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	h := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := fakeClient(h, "c1", "user-1")
	h.Register(c)
	waitFor(t, func() bool { return h.Online("user-1") })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, h.Online("user-1"))
}

func TestHub_RegisterAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	finished := make(chan struct{})
	late := fakeClient(h, "late", "user-1")
	go func() {
		defer close(finished)
		// More than the register and unregister buffers hold.
		for i := 0; i < 40; i++ {
			c := fakeClient(h, fmt.Sprintf("c%d", i), "user-2")
			h.Register(c)
			h.Unregister(c)
		}
		h.Register(late)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Register/Unregister blocked on a stopped hub")
	}
	_, open := <-late.send
	assert.False(t, open, "a client registered on a stopped hub must be closed")
	assert.False(t, h.Online("user-2"))
}

func TestOriginChecker(t *testing.T) {
	oc := NewOriginChecker("http://localhost:3000, https://admin.example.com ,")

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, oc.Check(req("")))
	assert.True(t, oc.Check(req("https://ADMIN.example.com")))
	assert.False(t, oc.Check(req("https://evil.example.com")))
}

func TestServeWS_RejectsMissingAndBadTokens(t *testing.T) {
	h := startHub(t)
	handler := NewWSHandler(h, auth.NewJWTService("secret"), NewOriginChecker(""))

	rec := httptest.NewRecorder()
	handler.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeWS_PushesToAuthenticatedUser(t *testing.T) {
	h := startHub(t)
	jwtSvc := auth.NewJWTService("secret")
	r := mux.NewRouter()
	NewWSHandler(h, jwtSvc, NewOriginChecker("")).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := jwtSvc.GenerateToken("user-42", "client")
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return h.Online("user-42") })
	h.SendToUsers([]string{"user-42"}, "notification", map[string]string{"title": "Départ"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "notification", env.Type)
}
