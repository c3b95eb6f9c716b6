package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"feedsync/internal/feed"
	"feedsync/internal/graphapi"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"
	"feedsync/internal/models"

	"github.com/gin-gonic/gin"
)

// FeedRegistry is the admin view of the feed registry.
type FeedRegistry interface {
	Definitions() []*feed.Definition
	Definition(name string) (*feed.Definition, error)
	Regenerate(ctx context.Context, name string) (bool, error)
	DownloadURL(ctx context.Context, name string) (string, error)
}

type RunHistory interface {
	Runs(ctx context.Context, feedType string, limit int) ([]models.FeedRun, error)
	LastRun(ctx context.Context, feedType string) (*models.FeedRun, error)
}

type UploadStatusReader interface {
	Status(ctx context.Context, feedType string) (*graphapi.UploadStatus, error)
}

type FeedHandler struct {
	registry FeedRegistry
	history  RunHistory
	uploads  UploadStatusReader
	logger   *logger.Logger
}

func NewFeedHandler(registry FeedRegistry, history RunHistory, uploads UploadStatusReader, logger *logger.Logger) *FeedHandler {
	return &FeedHandler{
		registry: registry,
		history:  history,
		uploads:  uploads,
		logger:   logger,
	}
}

type feedSummary struct {
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	BatchSize int             `json:"batch_size"`
	Interval  string          `json:"interval"`
	Job       jobs.Status     `json:"job"`
	File      feed.FileInfo   `json:"file"`
	LastRun   *models.FeedRun `json:"last_run"`
}

func (h *FeedHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var out []feedSummary
	for _, def := range h.registry.Definitions() {
		summary := feedSummary{
			Name:      def.Name,
			Enabled:   def.Enabled,
			BatchSize: def.BatchSize,
			Interval:  def.Interval.String(),
			Job:       def.Job.Status(),
		}

		file, err := def.File(ctx)
		if err != nil {
			h.logger.Warn("Failed to stat feed file", "feed", def.Name, "error", err)
		}
		summary.File = file

		if h.history != nil {
			run, err := h.history.LastRun(ctx, def.Name)
			if err != nil {
				h.logger.Warn("Failed to load last run", "feed", def.Name, "error", err)
			}
			summary.LastRun = run
		}
		out = append(out, summary)
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *FeedHandler) Regenerate(c *gin.Context) {
	name := c.Param("name")

	queued, err := h.registry.Regenerate(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownFeed) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
			return
		}
		h.logger.Error("Failed to queue feed regeneration", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue feed regeneration"})
		return
	}

	if !queued {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed generation already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Feed generation queued"})
}

func (h *FeedHandler) Runs(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.registry.Definition(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	runs, err := h.history.Runs(c.Request.Context(), name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

func (h *FeedHandler) Upload(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.registry.Definition(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	status, err := h.uploads.Status(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No upload for this feed yet"})
			return
		}
		h.logger.Error("Failed to read upload status", "feed", name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to read upload status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (h *FeedHandler) URL(c *gin.Context) {
	name := c.Param("name")

	url, err := h.registry.DownloadURL(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, feed.ErrUnknownFeed) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build download URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
}
