package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// WatchHandlers defines optional callback functions for the events a Watcher
// sees on the websocket. All handlers are optional.
type WatchHandlers struct {
	// OnQueueChanged is called with the number of prompts still queued
	OnQueueChanged func(remaining int)

	// OnStarted is called when a prompt begins executing
	OnStarted func(promptID string)

	// OnFinished is called with the history entry of every prompt that ran
	// to completion
	OnFinished func(ctx context.Context, item HistoryItem) error

	// OnError is called if there was an exception during execution
	OnError func(*WSMessageExecutionError)

	// OnInterrupted is called when a prompt is cancelled
	OnInterrupted func(*WSMessageExecutionInterrupted)
}

// DefaultWatchHandlers returns WatchHandlers that log every event. Set
// OnFinished to do something with finished prompts.
func DefaultWatchHandlers() *WatchHandlers {
	return &WatchHandlers{
		OnQueueChanged: func(remaining int) {
			slog.Debug("Queue changed", "remaining", remaining)
		},
		OnStarted: func(promptID string) {
			slog.Info("Execution started", "prompt_id", promptID)
		},
		OnError: func(err *WSMessageExecutionError) {
			slog.Error("Execution error",
				"prompt_id", err.PromptID,
				"node_id", err.Node,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
		OnInterrupted: func(msg *WSMessageExecutionInterrupted) {
			slog.Warn("Execution interrupted", "prompt_id", msg.PromptID, "node_id", msg.Node)
		},
	}
}

const recentPromptCapacity = 128

// Watcher follows the live event feed of a ComfyUI server and hands the
// history entry of each finished prompt to WatchHandlers.OnFinished.
type Watcher struct {
	client   *ComfyClient
	handlers *WatchHandlers
	logger   *slog.Logger

	// history is written shortly after the final websocket event
	historyAttempts int
	historyDelay    time.Duration

	recent []string
	seen   map[string]struct{}
}

func NewWatcher(c *ComfyClient, handlers *WatchHandlers) *Watcher {
	if handlers == nil {
		handlers = DefaultWatchHandlers()
	}
	return &Watcher{
		client:          c,
		handlers:        handlers,
		logger:          c.logger,
		historyAttempts: 5,
		historyDelay:    500 * time.Millisecond,
		seen:            make(map[string]struct{}),
	}
}

// Run watches until ctx is done or the websocket cannot be reconnected.
// Errors from OnFinished are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	finished := make(chan string, 16)
	conn := w.client.NewWebSocketConnection(WebSocketCallbackFunc(func(msg string) {
		if id, ok := w.handleMessage(msg); ok {
			select {
			case finished <- id:
			case <-ctx.Done():
			}
		}
	}))

	errc := make(chan error, 1)
	go func() {
		errc <- conn.Run(ctx)
	}()

	for {
		select {
		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case id := <-finished:
			w.deliver(ctx, id)
		}
	}
}

func (w *Watcher) deliver(ctx context.Context, promptID string) {
	item, err := w.fetchHistory(ctx, promptID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Fetching history failed", "prompt_id", promptID, "error", err)
		}
		return
	}
	if !item.Succeeded() {
		w.logger.Warn("Skipping prompt that did not succeed", "prompt_id", promptID, "status", item.Status.StatusStr)
		return
	}
	if w.handlers.OnFinished == nil {
		return
	}
	if err := w.handlers.OnFinished(ctx, item); err != nil {
		w.logger.Error("Handling finished prompt failed", "prompt_id", promptID, "error", err)
	}
}

func (w *Watcher) fetchHistory(ctx context.Context, promptID string) (HistoryItem, error) {
	var err error
	for attempt := 1; ; attempt++ {
		var item HistoryItem
		item, err = w.client.GetHistoryItem(ctx, promptID)
		if err == nil || !errors.Is(err, ErrNotFound) || attempt >= w.historyAttempts {
			return item, err
		}
		select {
		case <-ctx.Done():
			return HistoryItem{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * w.historyDelay):
		}
	}
}

// handleMessage dispatches one websocket message and reports the prompt id
// when it announces a finished prompt for the first time.
func (w *Watcher) handleMessage(msg string) (string, bool) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		w.logger.Warn("Deserializing status message", "error", err)
		return "", false
	}

	switch data := message.Data.(type) {
	case *WSMessageDataStatus:
		if w.handlers.OnQueueChanged != nil {
			w.handlers.OnQueueChanged(data.Status.ExecInfo.QueueRemaining)
		}
	case *WSMessageDataExecutionStart:
		if w.handlers.OnStarted != nil {
			w.handlers.OnStarted(data.PromptID)
		}
	case *WSMessageDataExecuting:
		// final node was processed
		if data.Node == nil && data.PromptID != "" {
			return data.PromptID, w.markFinished(data.PromptID)
		}
	case *WSMessageExecutionSuccess:
		if data.PromptID != "" {
			return data.PromptID, w.markFinished(data.PromptID)
		}
	case *WSMessageExecutionError:
		w.markFinished(data.PromptID)
		if w.handlers.OnError != nil {
			w.handlers.OnError(data)
		}
	case *WSMessageExecutionInterrupted:
		w.markFinished(data.PromptID)
		if w.handlers.OnInterrupted != nil {
			w.handlers.OnInterrupted(data)
		}
	default:
		w.logger.Debug("Unhandled message type", "type", message.Type)
	}
	return "", false
}

// markFinished records promptID and reports whether it was new. Newer
// servers announce the end of a prompt twice.
func (w *Watcher) markFinished(promptID string) bool {
	if _, ok := w.seen[promptID]; ok {
		return false
	}
	if len(w.recent) == recentPromptCapacity {
		delete(w.seen, w.recent[0])
		w.recent = w.recent[1:]
	}
	w.recent = append(w.recent, promptID)
	w.seen[promptID] = struct{}{}
	return true
}
