// Package vk implements core.Messenger on top of the VK API
// (messages.send, messages.sendReaction).
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/chatagent/logging"
)

const (
	DefaultBaseURL    = "https://api.vk.com/method/"
	DefaultAPIVersion = "5.199"
)

// ErrNoToken is returned by NewClient when no access token is configured.
var ErrNoToken = errors.New("vk: access token is required")

// APIError is the error envelope returned by the VK API.
type APIError struct {
	Method  string `json:"-"`
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk %s: error %d: %s", e.Method, e.Code, e.Message)
}

// Options configure the VK client.
type Options struct {
	AccessToken string
	APIVersion  string
	BaseURL     string
	// Timeout bounds one HTTP request.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client is a minimal VK API client. It is safe for concurrent use.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient creates a VK client.
func NewClient(optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		APIVersion: DefaultAPIVersion,
		BaseURL:    DefaultBaseURL,
		Timeout:    10 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, ErrNoToken
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{opts: opts, http: hc}, nil
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// Call invokes method with params and returns the raw "response" field.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("access_token", c.opts.AccessToken)
	form.Set("v", c.opts.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("vk %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vk %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("vk %s: read body: %w", method, err)
	}

	c.opts.Logger.Debug("vk.call", "method", method, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vk %s: unexpected status %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vk %s: decode response: %w", method, err)
	}
	if env.Error != nil {
		env.Error.Method = method
		return nil, env.Error
	}

	return env.Response, nil
}

// SendMessage posts text to the conversation (peer) and returns the message id.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, text string, replyTo int64) (int64, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(conversationID, 10))
	params.Set("message", text)
	params.Set("random_id", "0")
	if replyTo > 0 {
		params.Set("reply_to", strconv.FormatInt(replyTo, 10))
	}

	raw, err := c.Call(ctx, "messages.send", params)
	if err != nil {
		return 0, err
	}
	return intResponse(raw, 0), nil
}

// SendReaction puts reactionID on the message with conversation message id
// targetID. A non-numeric acknowledgement is reported as 1.
func (c *Client) SendReaction(ctx context.Context, conversationID, targetID, reactionID int64) (int64, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(conversationID, 10))
	params.Set("cmid", strconv.FormatInt(targetID, 10))
	params.Set("reaction_id", strconv.FormatInt(reactionID, 10))

	raw, err := c.Call(ctx, "messages.sendReaction", params)
	if err != nil {
		return 0, err
	}
	return intResponse(raw, 1), nil
}

func intResponse(raw json.RawMessage, fallback int64) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil || n == 0 {
		return fallback
	}
	return n
}
