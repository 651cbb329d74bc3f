// ABOUTME: WhatsApp Cloud API client over net/http
// ABOUTME: Sends messages, marks them read and downloads inbound media

package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"

	controlTimeout  = 10 * time.Second
	sendTimeout     = 30 * time.Second
	lookupTimeout   = 30 * time.Second
	downloadTimeout = 60 * time.Second

	// maxMediaBytes caps a single media download.
	maxMediaBytes = 64 << 20
)

// ErrNoMediaURL is returned when the media lookup has no download URL.
var ErrNoMediaURL = errors.New("whatsapp: media has no download url")

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: status %d: %s", e.Status, e.Body)
}

// Client talks to one WhatsApp Business phone number.
type Client struct {
	token         string
	phoneNumberID string
	baseURL       string
	http          *http.Client
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. The API version is
// appended.
func WithBaseURL(base, version string) Option {
	return func(c *Client) {
		if base == "" {
			base = defaultBaseURL
		}
		if version == "" {
			version = defaultAPIVersion
		}
		c.baseURL = strings.TrimRight(base, "/") + "/" + version
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the given phone number.
func New(token, phoneNumberID string, opts ...Option) *Client {
	c := &Client{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       defaultBaseURL + "/" + defaultAPIVersion,
		http:          &http.Client{},
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "whatsapp")
	return c
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// send posts a message payload and returns the created message ID.
func (c *Client) send(ctx context.Context, payload any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var out sendResponse
	if err := c.postJSON(ctx, c.messagesURL(), payload, &out); err != nil {
		return "", err
	}
	id := ""
	if len(out.Messages) > 0 {
		id = out.Messages[0].ID
	}
	c.logger.Info("message sent", "message_id", id)
	return id, nil
}

// MarkRead marks an inbound message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	return c.postJSON(ctx, c.messagesURL(), map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}, nil)
}

// DownloadMedia resolves a media ID to its URL and downloads it. It returns
// the bytes and the reported MIME type.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	var info struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	err := c.getJSON(lctx, c.baseURL+"/"+mediaID, &info)
	cancel()
	if err != nil {
		return nil, "", fmt.Errorf("looking up media %s: %w", mediaID, err)
	}
	if info.URL == "" {
		return nil, "", ErrNoMediaURL
	}

	dctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	resp, err := c.do(dctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("downloading media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading media %s: %w", mediaID, err)
	}
	return data, info.MimeType, nil
}

func (c *Client) messagesURL() string {
	return c.baseURL + "/" + c.phoneNumberID + "/messages"
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: encode request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("whatsapp: decode response: %w", err)
	}
	return nil
}

// do performs an authenticated request and turns non-2xx into *APIError.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}
