// Package graphapi talks to the remote commerce catalog API that pulls the
// generated feeds.
package graphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedsync/internal/logger"
)

const UpdateTypeCreate = "CREATE"

// UploadRequest tells the remote catalog where to pull a new feed version from.
type UploadRequest struct {
	URL        string `json:"url"`
	FeedType   string `json:"feed_type"`
	UpdateType string `json:"update_type"`
}

type UploadSession struct {
	ID string `json:"id"`
}

type UploadStatus struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	StartTime   string       `json:"start_time,omitempty"`
	EndTime     string       `json:"end_time,omitempty"`
	ErrorCount  int          `json:"error_count,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

type Diagnostic struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: %d - %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	version     string
	accessToken string
	httpClient  *http.Client
	logger      *logger.Logger
}

func NewClient(baseURL, version, accessToken string, logger *logger.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		version:     version,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// CreateUploadSession asks the catalog to pull a new feed version.
func (c *Client) CreateUploadSession(ctx context.Context, partnerID string, req UploadRequest) (*UploadSession, error) {
	if req.UpdateType == "" {
		req.UpdateType = UpdateTypeCreate
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload request: %w", err)
	}

	var session UploadSession
	if err := c.do(ctx, http.MethodPost, c.endpoint(partnerID, "file_update"), bytes.NewReader(jsonData), &session); err != nil {
		return nil, err
	}

	c.logger.Debug("Upload session created", "upload_id", session.ID, "feed_type", req.FeedType)
	return &session, nil
}

// ReadUploadStatus fetches the processing state of an upload.
func (c *Client) ReadUploadStatus(ctx context.Context, uploadID string) (*UploadStatus, error) {
	var status UploadStatus
	if err := c.do(ctx, http.MethodGet, c.endpoint(uploadID, "file_update"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) endpoint(id, edge string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, c.version, url.PathEscape(id), edge)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	q := req.URL.Query()
	q.Set("access_token", c.accessToken)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
