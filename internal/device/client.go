// Package device is the client for the remote device provider API.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound is returned when the provider does not know the device.
	ErrNotFound = errors.New("device not found")
	// ErrBootTimeout is returned when a device does not reach running in time.
	ErrBootTimeout = errors.New("device boot timed out")
	// ErrDeviceFault is returned when the provider reports the device in an error state.
	ErrDeviceFault = errors.New("device reported an error state")
)

// APIError is a non-success response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device api returned %d: %s", e.Status, e.Body)
}

// Client is a REST client for the device provider.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxRetries   uint64
	pollInterval time.Duration
	logger       *zap.Logger

	initialInterval time.Duration
}

var _ schemas.DeviceProvider = (*Client)(nil)

// New creates a client from configuration.
func New(cfg config.DeviceConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		token:           cfg.Token,
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      cfg.MaxRetries,
		pollInterval:    poll,
		logger:          logger.Named("device"),
		initialInterval: 500 * time.Millisecond,
	}
}

// requestBody produces a fresh body for every attempt.
type requestBody func() (io.Reader, string, error)

func jsonBody(v interface{}) requestBody {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

// do sends a request, retrying transport errors, 429 and 5xx. The raw
// response body is returned on success.
func (c *Client) do(ctx context.Context, method, path string, body requestBody) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = 10 * time.Second

	var out []byte
	operation := func() error {
		var (
			reader      io.Reader
			contentType string
		)
		if body != nil {
			var err error
			if reader, contentType, err = body(); err != nil {
				return backoff.Permanent(fmt.Errorf("building request body: %w", err))
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Device API request failed, retrying.", zap.String("path", path), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			out = data
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s %s: %w", method, path, ErrNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		default:
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))})
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body requestBody, result interface{}) error {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// FindDevice looks a device up by its exact name.
func (c *Client) FindDevice(ctx context.Context, name string) (schemas.Device, error) {
	var resp struct {
		Devices []schemas.Device `json:"devices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/devices?name="+url.QueryEscape(name), nil, &resp); err != nil {
		return schemas.Device{}, fmt.Errorf("finding device %q: %w", name, err)
	}
	for _, d := range resp.Devices {
		if d.Name == name {
			return d, nil
		}
	}
	return schemas.Device{}, fmt.Errorf("finding device %q: %w", name, ErrNotFound)
}

// GetDevice fetches the current state of a device.
func (c *Client) GetDevice(ctx context.Context, id string) (schemas.Device, error) {
	var d schemas.Device
	if err := c.doJSON(ctx, http.MethodGet, "/devices/"+url.PathEscape(id), nil, &d); err != nil {
		return d, fmt.Errorf("getting device %s: %w", id, err)
	}
	return d, nil
}

func (c *Client) StartDevice(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/start", nil)
	return err
}

func (c *Client) StopDevice(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/stop", nil)
	return err
}

type controlRequest struct {
	Enabled   bool `json:"enabled"`
	PortStart int  `json:"port_start,omitempty"`
	PortEnd   int  `json:"port_end,omitempty"`
}

// EnableControl opens the remote control channel on the given port range.
func (c *Client) EnableControl(ctx context.Context, id string, portStart, portEnd int) error {
	if portStart <= 0 || portEnd < portStart {
		return fmt.Errorf("invalid control port range %d-%d", portStart, portEnd)
	}
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/control",
		jsonBody(controlRequest{Enabled: true, PortStart: portStart, PortEnd: portEnd}))
	return err
}

func (c *Client) DisableControl(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/control", jsonBody(controlRequest{}))
	return err
}

// PushFile uploads a local file into remoteDir on the device and returns the
// path the provider stored it under.
func (c *Client) PushFile(ctx context.Context, id, localPath, remoteDir string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("payload %s: %w", localPath, err)
	}
	body := func() (io.Reader, string, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return nil, "", err
		}
		defer f.Close()

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := w.WriteField("remote_dir", remoteDir); err != nil {
			return nil, "", err
		}
		part, err := w.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}

	var resp struct {
		Path string `json:"path"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/devices/"+url.PathEscape(id)+"/files", body, &resp); err != nil {
		return "", fmt.Errorf("pushing %s: %w", filepath.Base(localPath), err)
	}
	if resp.Path == "" {
		resp.Path = strings.TrimRight(remoteDir, "/") + "/" + filepath.Base(localPath)
	}
	return resp.Path, nil
}

// Screenshot returns the current screen as an image.
func (c *Client) Screenshot(ctx context.Context, id string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(id)+"/screenshot", nil)
}

// WaitReady finds the device, starts it when stopped, and polls until it
// reports running. Exceeding timeout returns ErrBootTimeout.
func (c *Client) WaitReady(ctx context.Context, name string, timeout time.Duration) (schemas.Device, error) {
	d, err := c.FindDevice(ctx, name)
	if err != nil {
		return d, err
	}
	if d.Status == schemas.DeviceRunning {
		return d, nil
	}
	if d.Status == schemas.DeviceStopped || d.Status == schemas.DeviceError {
		c.logger.Info("Starting device.", zap.String("device", name), zap.String("status", string(d.Status)))
		if err := c.StartDevice(ctx, d.ID); err != nil {
			return d, fmt.Errorf("starting device %s: %w", name, err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return d, ctx.Err()
			}
			return d, fmt.Errorf("device %s still %s after %s: %w", name, d.Status, timeout, ErrBootTimeout)
		case <-ticker.C:
		}
		cur, err := c.GetDevice(waitCtx, d.ID)
		if err != nil {
			if waitCtx.Err() != nil {
				continue
			}
			return d, err
		}
		d = cur
		switch d.Status {
		case schemas.DeviceRunning:
			c.logger.Info("Device is running.", zap.String("device", name))
			return d, nil
		case schemas.DeviceError:
			return d, fmt.Errorf("device %s: %w", name, ErrDeviceFault)
		}
	}
}
