package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedsync/internal/graphapi"
	"feedsync/internal/logger"
	"feedsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalogAPI struct {
	requests []graphapi.UploadRequest
	err      error
	block    bool
	statuses map[string]*graphapi.UploadStatus
}

func (f *fakeCatalogAPI) CreateUploadSession(ctx context.Context, partnerID string, req graphapi.UploadRequest) (*graphapi.UploadSession, error) {
	f.requests = append(f.requests, req)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &graphapi.UploadSession{ID: "upload-1"}, nil
}

func (f *fakeCatalogAPI) ReadUploadStatus(ctx context.Context, uploadID string) (*graphapi.UploadStatus, error) {
	status, ok := f.statuses[uploadID]
	if !ok {
		return nil, errors.New("unknown upload")
	}
	return status, nil
}

func TestUploadNotifier_Notify(t *testing.T) {
	ctx := context.Background()
	history := NewHistory(testutil.NewDatabase(t).DB, logger.NewNop())
	api := &fakeCatalogAPI{statuses: map[string]*graphapi.UploadStatus{
		"upload-1": {ID: "upload-1", Status: "IN_PROGRESS"},
	}}
	n := NewUploadNotifier(api, "cpi-1", history, 0, logger.NewNop())

	_, err := n.Status(ctx, "products")
	assert.ErrorIs(t, err, ErrNotFound)

	uploadID := n.Notify(ctx, "https://shop.test/?feedsync-api=a&secret=s", "products")
	assert.Equal(t, "upload-1", uploadID)
	require.Len(t, api.requests, 1)
	assert.Equal(t, graphapi.UploadRequest{
		URL:        "https://shop.test/?feedsync-api=a&secret=s",
		FeedType:   "products",
		UpdateType: "CREATE",
	}, api.requests[0])

	status, err := n.Status(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", status.Status)
}

func TestUploadNotifier_FailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()

	api := &fakeCatalogAPI{err: errors.New("500")}
	n := NewUploadNotifier(api, "cpi-1", nil, 0, logger.NewNop())
	assert.Empty(t, n.Notify(ctx, "u", "products"))

	// not connected to a catalog
	unconfigured := NewUploadNotifier(api, "", nil, 0, logger.NewNop())
	assert.Empty(t, unconfigured.Notify(ctx, "u", "products"))
	assert.Len(t, api.requests, 1)
}

func TestUploadNotifier_Timeout(t *testing.T) {
	api := &fakeCatalogAPI{block: true}
	n := NewUploadNotifier(api, "cpi-1", nil, 20*time.Millisecond, logger.NewNop())

	start := time.Now()
	assert.Empty(t, n.Notify(context.Background(), "u", "products"))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUploadNotifier_DefaultTimeout(t *testing.T) {
	n := NewUploadNotifier(&fakeCatalogAPI{}, "cpi-1", nil, 0, logger.NewNop())
	assert.Equal(t, DefaultNotifyTimeout, n.timeout)
}
