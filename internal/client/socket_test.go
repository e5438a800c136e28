package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kbflow/kbflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// progressServer upgrades the task progress endpoint and pushes the
// given raw frames, recording any text frames the client sends back.
func progressServer(t *testing.T, frames [][]byte, received chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/tasks/ws/tasks/t1", r.URL.Path)

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, f := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, f))
		}

		// Keep reading so client heartbeats land somewhere.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if received != nil {
				received <- string(msg)
			}
		}
	}))
}

func TestSubscribeProgress_DeliversFrames(t *testing.T) {
	srv := progressServer(t, [][]byte{
		[]byte(`{"task_id":"t1","status":"running","progress":40}`),
		[]byte(`{"task_id":"t1","status":"completed"}`),
	}, nil)
	defer srv.Close()

	c := New(srv.URL)
	sub, err := c.SubscribeProgress(context.Background(), "t1")
	require.NoError(t, err)
	defer sub.Close()

	u1 := <-sub.Updates()
	assert.Equal(t, models.TaskStatusRunning, u1.Status)
	require.NotNil(t, u1.Progress)
	assert.Equal(t, 40.0, *u1.Progress)

	u2 := <-sub.Updates()
	assert.Equal(t, models.TaskStatusCompleted, u2.Status)
}

func TestSubscribeProgress_MalformedFrameIsDropped(t *testing.T) {
	srv := progressServer(t, [][]byte{
		[]byte(`{not json`),
		[]byte(`{"task_id":"t1","status":"running","progress":10}`),
	}, nil)
	defer srv.Close()

	c := New(srv.URL)
	sub, err := c.SubscribeProgress(context.Background(), "t1")
	require.NoError(t, err)
	defer sub.Close()

	// The malformed frame must not terminate the stream; the next
	// well-formed frame still arrives.
	select {
	case u := <-sub.Updates():
		assert.Equal(t, models.TaskStatusRunning, u.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("expected frame after malformed one")
	}
}

func TestSubscribeProgress_Heartbeat(t *testing.T) {
	received := make(chan string, 4)
	srv := progressServer(t, nil, received)
	defer srv.Close()

	c := New(srv.URL, WithHeartbeat(20*time.Millisecond))
	sub, err := c.SubscribeProgress(context.Background(), "t1")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	srv := progressServer(t, nil, nil)
	defer srv.Close()

	c := New(srv.URL)
	sub, err := c.SubscribeProgress(context.Background(), "t1")
	require.NoError(t, err)

	assert.NoError(t, sub.Close())
	assert.NotPanics(t, func() { sub.Close() })

	// Updates channel closes once the read loop exits.
	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel not closed")
	}
}
