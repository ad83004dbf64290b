package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

// WebSocketCallbackFunc adapts a function to WebSocketCallback.
type WebSocketCallbackFunc func(message string)

func (f WebSocketCallbackFunc) OnMessage(message string) {
	f(message)
}

type WebSocketConnection struct {
	WebSocketURL string
	MaxRetry     int
	Callback     WebSocketCallback
	Logger       *slog.Logger

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer

	mu         sync.Mutex // guards conn
	conn       *websocket.Conn
	retryCount int
}

// Run connects to the websocket and delivers every text message to Callback
// until ctx is done. A dropped connection is redialed with exponential
// back-off; Run gives up after MaxRetry consecutive failed dials.
func (w *WebSocketConnection) Run(ctx context.Context) error {
	logger := w.logger()
	for {
		conn, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.retryCount >= w.MaxRetry {
				return fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
			}
			delay := w.getReconnectDelay()
			logger.Warn("Connection attempt failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		w.retryCount = 0
		logger.Info("Connected", "url", w.WebSocketURL)
		err = w.handleMessages(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Connection lost, reconnecting", "error", err)
	}
}

func (w *WebSocketConnection) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	return conn, nil
}

// IsConnected reports whether a connection is currently open.
func (w *WebSocketConnection) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

// Handle incoming WebSocket messages until the connection fails or ctx is done
func (w *WebSocketConnection) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer func() {
		close(done)
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		// binary frames carry preview images
		if msgType != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.retryCount)))
	if delay > w.MaxDelay || delay <= 0 {
		delay = w.MaxDelay
	}
	w.retryCount++ // Increment the retry counter for the next attempt
	return delay
}

func (w *WebSocketConnection) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
