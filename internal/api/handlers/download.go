package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"feedsync/internal/feed"
	"feedsync/internal/jobs"
	"feedsync/internal/logger"

	"github.com/gin-gonic/gin"
)

// FeedFiles is what the download endpoint needs from the feed registry.
type FeedFiles interface {
	ByRequestAction(action string) (*feed.Definition, bool)
	CheckSecret(ctx context.Context, name, candidate string) error
	RegenerateNow(ctx context.Context, name string) error
}

// DownloadHandler serves promoted feed files to the remote catalog.
type DownloadHandler struct {
	feeds     FeedFiles
	streaming bool
	logger    *logger.Logger
}

func NewDownloadHandler(feeds FeedFiles, streaming bool, logger *logger.Logger) *DownloadHandler {
	return &DownloadHandler{feeds: feeds, streaming: streaming, logger: logger}
}

// Serve answers GET /?feedsync-api=<action>&secret=<secret>[&regenerate=1].
// The secret is checked before the file system is touched.
func (h *DownloadHandler) Serve(c *gin.Context) {
	defer c.Abort()
	ctx := c.Request.Context()

	def, ok := h.feeds.ByRequestAction(c.Query(feed.RequestParam))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	log := h.logger.With("feed", def.Name)

	if err := h.feeds.CheckSecret(ctx, def.Name, c.Query("secret")); err != nil {
		if errors.Is(err, feed.ErrUnauthorized) {
			log.Warn("Feed request with invalid secret", "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid feed secret"})
			return
		}
		log.Error("Failed to check feed secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check feed secret"})
		return
	}

	path, err := def.Writer.FilePath(ctx)
	if err != nil {
		log.Error("Failed to resolve feed file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve feed file"})
		return
	}

	if truthy(c.Query("regenerate")) || !fileExists(path) {
		if err := h.feeds.RegenerateNow(ctx, def.Name); err != nil {
			if errors.Is(err, jobs.ErrAlreadyRunning) {
				log.Info("Feed regeneration already in progress")
			} else {
				log.Error("Feed regeneration failed", "error", err)
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	c.Header("Expires", "0")
	c.Header("Cache-Control", "must-revalidate")
	c.Header("Pragma", "public")
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	c.Status(http.StatusOK)

	if h.streaming {
		if written, err := io.Copy(c.Writer, f); err != nil {
			log.Error("Feed stream interrupted", "written", written, "error", err)
		}
		return
	}

	log.Info("Feed streaming disabled, reading the whole file")
	raw, err := io.ReadAll(f)
	if err != nil {
		log.Error("Failed to read feed file", "error", err)
		return
	}
	if _, err := c.Writer.Write(raw); err != nil {
		log.Error("Failed to write feed file", "error", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}
