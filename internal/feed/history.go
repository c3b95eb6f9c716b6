package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/jobs"
	"feedsync/internal/logger"
	"feedsync/internal/models"

	"gorm.io/gorm"
)

// History persists feed runs and upload sessions.
type History struct {
	db     *gorm.DB
	logger *logger.Logger
}

var _ jobs.RunRecorder = (*History)(nil)

func NewHistory(db *gorm.DB, log *logger.Logger) *History {
	return &History{db: db, logger: log}
}

func (h *History) RunStarted(ctx context.Context, job, runID, mode string) {
	run := models.FeedRun{
		ID:        runID,
		FeedType:  feedTypeOfJob(job),
		Mode:      mode,
		Status:    models.FeedRunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := h.db.WithContext(ctx).Create(&run).Error; err != nil {
		h.logger.Warn("Failed to record feed run", "run_id", runID, "error", err)
	}
}

func (h *History) BatchProcessed(ctx context.Context, runID string, items int) {
	err := h.db.WithContext(ctx).Model(&models.FeedRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"batches": gorm.Expr("batches + 1"),
			"records": gorm.Expr("records + ?", items),
		}).Error
	if err != nil {
		h.logger.Warn("Failed to record feed batch", "run_id", runID, "error", err)
	}
}

func (h *History) RunFinished(ctx context.Context, runID string, runErr error) {
	updates := map[string]interface{}{
		"status":      models.FeedRunStatusCompleted,
		"finished_at": time.Now(),
	}
	if runErr != nil {
		updates["status"] = models.FeedRunStatusAborted
		updates["error"] = runErr.Error()
	}

	err := h.db.WithContext(ctx).Model(&models.FeedRun{}).Where("id = ?", runID).Updates(updates).Error
	if err != nil {
		h.logger.Warn("Failed to finish feed run", "run_id", runID, "error", err)
	}
}

// Runs returns the latest runs of a feed type, newest first.
func (h *History) Runs(ctx context.Context, feedType string, limit int) ([]models.FeedRun, error) {
	var runs []models.FeedRun
	err := h.db.WithContext(ctx).
		Where("feed_type = ?", feedType).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feed runs: %w", err)
	}
	return runs, nil
}

// LastRun returns nil when the feed never ran.
func (h *History) LastRun(ctx context.Context, feedType string) (*models.FeedRun, error) {
	runs, err := h.Runs(ctx, feedType, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (h *History) SaveUpload(ctx context.Context, upload *models.FeedUpload) error {
	if err := h.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (h *History) LatestUpload(ctx context.Context, feedType string) (*models.FeedUpload, error) {
	var upload models.FeedUpload
	err := h.db.WithContext(ctx).
		Where("feed_type = ?", feedType).
		Order("created_at DESC").
		First(&upload).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest upload: %w", err)
	}
	return &upload, nil
}

func feedTypeOfJob(job string) string {
	if feedType, ok := strings.CutPrefix(job, jobPrefix); ok {
		return feedType
	}
	return job
}
