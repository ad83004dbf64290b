package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when ComfyUI has no record of the requested item.
var ErrNotFound = errors.New("comfyui: not found")

// ComfyClientConfig configures a ComfyClient. Zero values take defaults.
type ComfyClientConfig struct {
	// ClientID identifies this client on the websocket. A random UUID is
	// used when empty.
	ClientID   string
	HTTPClient *http.Client
	// Websocket reconnect back-off.
	MaxRetry  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    *slog.Logger
}

// ComfyClient talks to the HTTP and websocket API of a ComfyUI server
type ComfyClient struct {
	baseURL    *url.URL
	clientid   string
	httpclient *http.Client
	maxRetry   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewComfyClient creates a client for the ComfyUI server at baseURL, for
// example "http://127.0.0.1:8188".
func NewComfyClient(baseURL string, cfg ComfyClientConfig) (*ComfyClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("comfyui url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("comfyui url %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("comfyui url %q: missing host", baseURL)
	}

	cid := cfg.ClientID
	if cid == "" {
		cid = uuid.New().String()
	}
	retv := &ComfyClient{
		baseURL:    u,
		clientid:   cid,
		httpclient: cfg.HTTPClient,
		maxRetry:   cfg.MaxRetry,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger,
	}
	if retv.httpclient == nil {
		retv.httpclient = &http.Client{Timeout: 30 * time.Second}
	}
	if retv.baseDelay <= 0 {
		retv.baseDelay = time.Second
	}
	if retv.maxDelay < retv.baseDelay {
		retv.maxDelay = 30 * time.Second
	}
	if retv.logger == nil {
		retv.logger = slog.Default()
	}
	return retv, nil
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// BaseURL returns the server address the client was created with.
func (c *ComfyClient) BaseURL() string {
	return c.baseURL.String()
}

func (c *ComfyClient) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// WebSocketURL is the address of the live event feed for this client.
func (c *ComfyClient) WebSocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String()
}

// NewWebSocketConnection returns a connection to the live event feed that
// reconnects with the client's back-off settings.
func (c *ComfyClient) NewWebSocketConnection(callback WebSocketCallback) *WebSocketConnection {
	return &WebSocketConnection{
		WebSocketURL: c.WebSocketURL(),
		MaxRetry:     c.maxRetry,
		BaseDelay:    c.baseDelay,
		MaxDelay:     c.maxDelay,
		Callback:     callback,
		Logger:       c.logger,
	}
}

func (c *ComfyClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("comfyui GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("comfyui GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("comfyui GET %s: decode: %w", path, err)
	}
	return nil
}
