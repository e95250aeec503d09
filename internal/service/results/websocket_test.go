package results

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"QuantGate/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketSubscriber_TopicAndFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	topics := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topics <- r.URL.Query().Get("topic")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range []string{
			`{"job_id":"ws1","seq":2,"kind":"log","payload":{"message":"bar 2"}}`,
			`{"job_id":"ws1","seq":1,"kind":"log","payload":{"message":"bar 1"}}`,
			`{"job_id":"ws1","seq":3,"kind":"error","payload":{"message":"strategy crashed"}}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sub, err := NewWebSocketSubscriber("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	st, err := sub.Subscribe(context.Background(), "ws1")
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, "backtest/results/ws1", <-topics)
	got := collectUntilTerminal(t, st, 3*time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, models.KindError, got[2].Kind)
	assert.Equal(t, "strategy crashed", got[2].Error.Message)
}

func TestWebSocketSubscriber_CloseUnblocksRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sub, err := NewWebSocketSubscriber("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	st, err := sub.Subscribe(context.Background(), "idle")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = st.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close blocked on an idle connection")
	}
}

func TestNewWebSocketSubscriber_RejectsScheme(t *testing.T) {
	_, err := NewWebSocketSubscriber("http://example.com/results")
	assert.Error(t, err)
}
