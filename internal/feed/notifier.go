package feed

import (
	"context"
	"fmt"
	"time"

	"feedsync/internal/graphapi"
	"feedsync/internal/logger"
	"feedsync/internal/models"
)

// DefaultNotifyTimeout bounds the outbound upload-session call.
const DefaultNotifyTimeout = 30 * time.Second

// CatalogAPI is the part of the remote catalog API the notifier needs.
type CatalogAPI interface {
	CreateUploadSession(ctx context.Context, partnerID string, req graphapi.UploadRequest) (*graphapi.UploadSession, error)
	ReadUploadStatus(ctx context.Context, uploadID string) (*graphapi.UploadStatus, error)
}

// UploadStore remembers the upload sessions opened for each feed type.
type UploadStore interface {
	SaveUpload(ctx context.Context, upload *models.FeedUpload) error
	LatestUpload(ctx context.Context, feedType string) (*models.FeedUpload, error)
}

// UploadNotifier tells the remote catalog that a new feed file is ready to be
// pulled.
type UploadNotifier struct {
	api       CatalogAPI
	partnerID string
	uploads   UploadStore
	timeout   time.Duration
	logger    *logger.Logger
}

func NewUploadNotifier(api CatalogAPI, partnerID string, uploads UploadStore, timeout time.Duration, log *logger.Logger) *UploadNotifier {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &UploadNotifier{
		api:       api,
		partnerID: partnerID,
		uploads:   uploads,
		timeout:   timeout,
		logger:    log,
	}
}

// Notify requests an upload session for downloadURL. Failures are logged and
// swallowed; the returned id is empty when nothing was created.
func (n *UploadNotifier) Notify(ctx context.Context, downloadURL, feedType string) string {
	uploadID, err := n.notify(ctx, downloadURL, feedType)
	if err != nil {
		n.logger.Error("Feed upload request failed", "feed", feedType, "error", err)
		return ""
	}
	return uploadID
}

func (n *UploadNotifier) notify(ctx context.Context, downloadURL, feedType string) (string, error) {
	if n.partnerID == "" {
		return "", &NotifyError{FeedType: feedType, Err: fmt.Errorf("no commerce partner integration configured")}
	}

	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	session, err := n.api.CreateUploadSession(callCtx, n.partnerID, graphapi.UploadRequest{
		URL:        downloadURL,
		FeedType:   feedType,
		UpdateType: graphapi.UpdateTypeCreate,
	})
	if err != nil {
		return "", &NotifyError{FeedType: feedType, Err: err}
	}

	n.logger.Info("Feed upload requested", "feed", feedType, "upload_id", session.ID)

	if n.uploads != nil {
		upload := &models.FeedUpload{FeedType: feedType, UploadID: session.ID}
		if err := n.uploads.SaveUpload(ctx, upload); err != nil {
			n.logger.Warn("Failed to record upload session", "feed", feedType, "error", err)
		}
	}
	return session.ID, nil
}

// Status reads the remote processing state of the latest upload.
func (n *UploadNotifier) Status(ctx context.Context, feedType string) (*graphapi.UploadStatus, error) {
	if n.uploads == nil {
		return nil, ErrNotFound
	}

	upload, err := n.uploads.LatestUpload(ctx, feedType)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	status, err := n.api.ReadUploadStatus(ctx, upload.UploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", upload.UploadID, err)
	}
	return status, nil
}
