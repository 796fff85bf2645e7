// Package cdp implements control.Channel over the Chrome DevTools Protocol.
package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ramiqadoumi/go-action-flow/internal/control"
	"github.com/ramiqadoumi/go-action-flow/pkg/poll"
)

// Config locates the browser and tunes the session.
type Config struct {
	// Endpoint is the browser's remote debugging HTTP address,
	// e.g. http://127.0.0.1:9222.
	Endpoint string `mapstructure:"endpoint"`
	// TargetURL, if set, selects the first page whose URL contains it.
	TargetURL   string        `mapstructure:"target_url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// KeyDelay is the pause between simulated keystrokes.
	KeyDelay time.Duration `mapstructure:"key_delay"`
	// PollInterval is used by WaitForCondition.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// contextLost are the protocol error texts Chrome returns when the page's
// execution context was torn down under a call.
var contextLost = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Cannot find default execution context",
	"Inspected target navigated or closed",
}

func (e *rpcError) err(method string) error {
	for _, text := range contextLost {
		if strings.Contains(e.Message, text) {
			return fmt.Errorf("%w: %s: %s", control.ErrContextLost, method, e.Message)
		}
	}
	return fmt.Errorf("%s: protocol error %d: %s", method, e.Code, e.Message)
}

type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params any             `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Client is one DevTools session attached to a page target. Calls may be
// issued concurrently; responses are matched by id.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan message

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial discovers a page target at cfg.Endpoint and attaches to it.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	wsURL, err := discover(dialCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", control.ErrUnavailable, err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", control.ErrUnavailable, wsURL, err)
	}
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	logger.Info("devtools session attached", slog.String("target", wsURL))
	return c, nil
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func discover(ctx context.Context, cfg Config) (string, error) {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/list", nil)
	if err != nil {
		return "", fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("discover targets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discover targets: unexpected status %d", resp.StatusCode)
	}
	var targets []target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode targets: %w", err)
	}
	for _, t := range targets {
		if t.Type != "page" || t.WebSocketDebuggerURL == "" {
			continue
		}
		if cfg.TargetURL == "" || strings.Contains(t.URL, cfg.TargetURL) {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page target at %s", endpoint)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("undecodable devtools frame", slog.String("error", err.Error()))
			continue
		}
		if msg.ID == 0 {
			continue // event
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close detaches from the page.
func (c *Client) Close() error {
	c.fail(websocket.ErrCloseSent)
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// call sends method and decodes the result into out (if non-nil). Transport
// failures wrap control.ErrUnavailable. Protocol errors caused by a torn-down
// page context wrap control.ErrContextLost; other protocol errors are plain.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s: session closed: %v", control.ErrUnavailable, method, c.closeErr)
	default:
	}

	id := c.nextID.Add(1)
	ch := make(chan message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	err := c.conn.WriteJSON(message{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return fmt.Errorf("%w: %s: write: %v", control.ErrUnavailable, method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error.err(method)
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("%w: %s: decode result: %v", control.ErrMalformed, method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s: session closed: %v", control.ErrUnavailable, method, c.closeErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Navigate(ctx context.Context, destination string) (bool, error) {
	var res struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText"`
	}
	if err := c.call(ctx, "Page.navigate", map[string]any{"url": destination}, &res); err != nil {
		return false, err
	}
	if res.ErrorText != "" {
		c.logger.Warn("navigation refused",
			slog.String("url", destination),
			slog.String("reason", res.ErrorText),
		)
		return false, nil
	}
	return true, nil
}

type remoteObject struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type evaluateResult struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string        `json:"text"`
		Exception *remoteObject `json:"exception"`
	} `json:"exceptionDetails"`
}

// Evaluate runs script in the page and returns its value. String values are
// returned unquoted; other values as their JSON text.
func (c *Client) Evaluate(ctx context.Context, script string) (string, error) {
	var res evaluateResult
	err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    script,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("%w: script threw: %s", control.ErrMalformed, res.ExceptionDetails.Text)
	}
	if res.Result.Type == "string" {
		var s string
		if err := json.Unmarshal(res.Result.Value, &s); err != nil {
			return "", fmt.Errorf("%w: %v", control.ErrMalformed, err)
		}
		return s, nil
	}
	return string(res.Result.Value), nil
}

func (c *Client) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration) (bool, error) {
	script := fmt.Sprintf("(() => { try { return Boolean(%s); } catch (e) { return false; } })()", predicate)
	return poll.Until(ctx, c.cfg.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		out, err := c.Evaluate(ctx, script)
		if err != nil {
			return false, err
		}
		return out == "true", nil
	})
}

// InjectKeystrokes types text one key at a time. Newlines are sent as
// Shift+Enter so they break the line instead of submitting.
func (c *Client) InjectKeystrokes(ctx context.Context, text string) (bool, error) {
	for _, r := range text {
		down := map[string]any{"type": "keyDown", "text": string(r), "unmodifiedText": string(r), "key": string(r)}
		up := map[string]any{"type": "keyUp", "key": string(r)}
		if r == '\n' {
			down = map[string]any{"type": "keyDown", "key": "Enter", "code": "Enter", "windowsVirtualKeyCode": 13, "modifiers": 8, "text": "\r"}
			up = map[string]any{"type": "keyUp", "key": "Enter", "code": "Enter", "windowsVirtualKeyCode": 13, "modifiers": 8}
		}
		if err := c.call(ctx, "Input.dispatchKeyEvent", down, nil); err != nil {
			return false, err
		}
		if err := c.call(ctx, "Input.dispatchKeyEvent", up, nil); err != nil {
			return false, err
		}
		if c.cfg.KeyDelay > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(c.cfg.KeyDelay):
			}
		}
	}
	return true, nil
}

func (c *Client) ClickAt(ctx context.Context, x, y float64) (bool, error) {
	for _, typ := range []string{"mouseMoved", "mousePressed", "mouseReleased"} {
		params := map[string]any{"type": typ, "x": x, "y": y}
		if typ != "mouseMoved" {
			params["button"] = "left"
			params["clickCount"] = 1
		}
		if err := c.call(ctx, "Input.dispatchMouseEvent", params, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := c.call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"}, &res); err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return png, nil
}

var (
	_ control.Channel       = (*Client)(nil)
	_ control.Screenshotter = (*Client)(nil)
)
