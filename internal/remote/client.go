package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cdm-client/internal/domain"
)

const (
	apiKeyHeader   = "x-api-key"
	DefaultTimeout = 5 * time.Second
	maxTorrentSize = 32 << 20
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrTorrentTooLarge is returned when a .torrent download exceeds the size limit.
	ErrTorrentTooLarge = errors.New("torrent payload too large")
)

// StatusError reports a non-2xx response from the order server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order server error %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to the order server on behalf of the agent.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	maxBytes int64
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		maxBytes: maxTorrentSize,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s %s: %w", method, path, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)})
	}

	return resp, nil
}

type statusPush struct {
	Data []domain.TorrentStatus `json:"data"`
}

// PushStatus uploads a status snapshot.
func (c *Client) PushStatus(ctx context.Context, status []domain.TorrentStatus) error {
	if status == nil {
		status = []domain.TorrentStatus{}
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/client/status/", statusPush{Data: status})
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// FetchOrder pulls the pending files and instructions.
func (c *Client) FetchOrder(ctx context.Context) (*Order, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/client/", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data Order `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &envelope.Data, nil
}

// DownloadTorrent fetches the .torrent payload issued for trackerID.
func (c *Client) DownloadTorrent(ctx context.Context, trackerID int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/client/download/%d/", trackerID), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read torrent %d: %w", trackerID, err)
	}
	if int64(len(payload)) > c.maxBytes {
		return nil, fmt.Errorf("torrent %d over %d bytes: %w", trackerID, c.maxBytes, ErrTorrentTooLarge)
	}
	return payload, nil
}
