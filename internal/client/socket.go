package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kbflow/kbflow/internal/metrics"
	"github.com/kbflow/kbflow/internal/models"
)

// Subscription is one open progress socket for a single task. Frames
// arrive on Updates; the channel is closed when the socket closes from
// either side.
type Subscription struct {
	conn    *websocket.Conn
	updates chan models.ProgressUpdate
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// SubscribeProgress opens the progress socket for taskID and starts the
// read and heartbeat loops. The caller must Close the subscription on
// every exit path.
func (c *Client) SubscribeProgress(ctx context.Context, taskID string) (*Subscription, error) {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)
	wsEndpoint += "/api/v1/tasks/ws/tasks/" + url.PathEscape(taskID)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sub := &Subscription{
		conn:    conn,
		updates: make(chan models.ProgressUpdate, 16),
		done:    make(chan struct{}),
		logger:  c.logger.With("task_id", taskID),
	}

	go sub.readLoop(c.metrics)
	go sub.heartbeatLoop(c.heartbeat)

	return sub, nil
}

// Updates returns the inbound frame channel. It is closed once the
// subscription ends.
func (s *Subscription) Updates() <-chan models.ProgressUpdate {
	return s.updates
}

// Close shuts the socket down. Safe to call multiple times and
// concurrently with inbound frames.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// readLoop delivers parsed frames until the socket closes. Malformed
// frames are dropped with a warning; they never terminate the stream.
func (s *Subscription) readLoop(collector *metrics.Collector) {
	defer close(s.updates)
	defer s.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("progress socket read ended", "error", err)
			}
			return
		}

		if collector != nil {
			collector.RecordEvent(metrics.OpSocketFrame)
		}

		var update models.ProgressUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.logger.Warn("dropping malformed progress frame", "error", err)
			continue
		}

		select {
		case s.updates <- update:
		case <-s.done:
			return
		}
	}
}

// heartbeatLoop sends a literal "ping" text frame on a fixed cadence to
// keep the transport alive. No pong is expected.
func (s *Subscription) heartbeatLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				s.logger.Debug("heartbeat write failed", "error", err)
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
