package notify

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hunyaochong/ads-cloner/internal/models"
)

func newTestFeed(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New(io.Discard, "", 0)
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", NewHandler(hub, logger).ServeWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishReachesClients(t *testing.T) {
	hub, url := newTestFeed(t)
	first := dial(t, url)
	second := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(models.Event{
		Type:   models.EventJobProgress,
		JobID:  "job-1",
		Status: string(models.JobStatusCompleted),
		Progress: &models.JobProgress{
			TotalCount:      3,
			DownloadedCount: 2,
			FailedCount:     1,
			Status:          models.JobStatusCompleted,
		},
	})

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var got models.Event
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, models.EventJobProgress, got.Type)
		assert.Equal(t, "job-1", got.JobID)
		require.NotNil(t, got.Progress)
		assert.Equal(t, 2, got.Progress.DownloadedCount)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, url := newTestFeed(t)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NilSafe(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() {
		hub.Publish(models.Event{Type: models.EventAdUpdated})
		hub.Broadcast([]byte("x"))
	})
	assert.Equal(t, 0, hub.ClientCount())
}
