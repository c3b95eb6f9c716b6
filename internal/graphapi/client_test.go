package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"feedsync/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateUploadSession(t *testing.T) {
	var got UploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/cpi-1/file_update", r.URL.Path)
		assert.Equal(t, "token", r.URL.Query().Get("access_token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"upload-9"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "v21.0", "token", logger.NewNop())
	session, err := c.CreateUploadSession(context.Background(), "cpi-1", UploadRequest{
		URL:      "https://shop.example/?feedsync-api=x&secret=s",
		FeedType: "promotions",
	})
	require.NoError(t, err)

	assert.Equal(t, "upload-9", session.ID)
	assert.Equal(t, UploadRequest{
		URL:        "https://shop.example/?feedsync-api=x&secret=s",
		FeedType:   "promotions",
		UpdateType: UpdateTypeCreate,
	}, got)
}

func TestClient_ReadUploadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v21.0/upload-9/file_update", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"upload-9","status":"SUCCESS","error_count":2}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v21.0", "token", logger.NewNop())
	status, err := c.ReadUploadStatus(context.Background(), "upload-9")
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", status.Status)
	assert.Equal(t, 2, status.ErrorCount)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "v21.0", "token", logger.NewNop())
	_, err := c.ReadUploadStatus(context.Background(), "upload-9")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad")
}
