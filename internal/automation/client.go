// Package automation is the client for the on-device UI automation agent. It
// samples the window hierarchy and performs primitive gestures over JSON-RPC.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RPCError is an error returned by the agent itself. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("automation rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int64               `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *RPCError           `json:"error"`
}

// Client talks to one automation endpoint. Each worker owns its own client
// bound to its own port.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries uint64
	logger     *zap.Logger
	nextID     atomic.Int64

	now             func() time.Time
	initialInterval time.Duration
}

var (
	_ schemas.SnapshotSource = (*Client)(nil)
	_ schemas.Gestures       = (*Client)(nil)
	_ schemas.AppLauncher    = (*Client)(nil)
)

// New creates a client for the agent listening on cfg.Host:port.
func New(cfg config.AutomationConfig, port int, logger *zap.Logger) *Client {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return NewWithEndpoint(fmt.Sprintf("http://%s:%d/jsonrpc/0", host, port), cfg, logger)
}

// NewWithEndpoint creates a client for an explicit endpoint URL.
func NewWithEndpoint(endpoint string, cfg config.AutomationConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:        endpoint,
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      cfg.MaxRetries,
		logger:          logger.Named("automation").With(zap.String("endpoint", endpoint)),
		now:             time.Now,
		initialInterval: 250 * time.Millisecond,
	}
}

// Endpoint returns the JSON-RPC URL.
func (c *Client) Endpoint() string { return c.endpoint }

// call performs one JSON-RPC call, retrying transport failures and 5xx
// responses. result may be nil.
func (c *Client) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 5 * time.Second

	var raw jsoniter.RawMessage
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debug("Automation transport error, retrying.", zap.String("method", method), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("automation agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("automation agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}

		var rr rpcResponse
		if err := json.Unmarshal(data, &rr); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding %s response: %w", method, err))
		}
		if rr.Error != nil {
			return backoff.Permanent(rr.Error)
		}
		raw = rr.Result
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}

// Ping checks the agent is up.
func (c *Client) Ping(ctx context.Context) error {
	var pong string
	if err := c.call(ctx, "ping", &pong); err != nil {
		return err
	}
	if pong != "pong" {
		return fmt.Errorf("ping: unexpected reply %q", pong)
	}
	return nil
}

// Sample dumps and parses the current window hierarchy.
func (c *Client) Sample(ctx context.Context) (*schemas.ScreenSnapshot, error) {
	var xml string
	if err := c.call(ctx, "dumpWindowHierarchy", &xml, false); err != nil {
		return nil, err
	}
	if strings.TrimSpace(xml) == "" {
		return nil, errors.New("dumpWindowHierarchy: empty hierarchy")
	}
	return ParseHierarchy(xml, c.now().UTC())
}

// Tap clicks a screen coordinate.
func (c *Client) Tap(ctx context.Context, p schemas.Point) error {
	return c.call(ctx, "click", nil, p.X, p.Y)
}

// Swipe drags from one point to another. The agent moves in steps of
// roughly 5ms, so the duration is converted to a step count.
func (c *Client) Swipe(ctx context.Context, from, to schemas.Point, durationMs int) error {
	steps := max(durationMs/5, 1)
	return c.call(ctx, "swipe", nil, from.X, from.Y, to.X, to.Y, steps)
}

// PressKey sends an Android key code.
func (c *Client) PressKey(ctx context.Context, code int) error {
	return c.call(ctx, "pressKeyCode", nil, code)
}

// TypeText replaces the focused field's text.
func (c *Client) TypeText(ctx context.Context, text string) error {
	return c.call(ctx, "sendKeys", nil, text, true)
}

// Relaunch stops and starts the application package.
func (c *Client) Relaunch(ctx context.Context, pkg string) error {
	if err := c.call(ctx, "appStop", nil, pkg); err != nil {
		return err
	}
	return c.call(ctx, "appStart", nil, pkg)
}
