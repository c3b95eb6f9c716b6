package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"feedsync/internal/events"
	"feedsync/internal/logger"
	"feedsync/internal/models"
	"feedsync/internal/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type PromotionHandler struct {
	db        *gorm.DB
	changes   events.Publisher
	validator *validation.Validator
	logger    *logger.Logger
}

func NewPromotionHandler(db *gorm.DB, changes events.Publisher, logger *logger.Logger) *PromotionHandler {
	if changes == nil {
		changes = events.NopPublisher{}
	}
	return &PromotionHandler{
		db:        db,
		changes:   changes,
		validator: validation.New(logger),
		logger:    logger,
	}
}

// List returns promotions; ?active=true keeps only the ones that have not
// ended yet.
func (h *PromotionHandler) List(c *gin.Context) {
	var promotions []models.Promotion

	page, limit := pagination(c)
	query := h.db.Model(&models.Promotion{})

	if truthy(c.Query("active")) {
		query = query.Where("(ends_at IS NULL OR ends_at > ?)", time.Now().UTC())
	}

	var total int64
	query.Count(&total)

	if err := query.Order("id").Offset((page - 1) * limit).Limit(limit).Find(&promotions).Error; err != nil {
		h.logger.Error("Failed to fetch promotions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch promotions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": promotions,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *PromotionHandler) Get(c *gin.Context) {
	var promotion models.Promotion
	if err := h.db.First(&promotion, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Promotion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch promotion"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": promotion})
}

func (h *PromotionHandler) Create(c *gin.Context) {
	var promotion models.Promotion
	if err := c.ShouldBindJSON(&promotion); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validator.ValidatePromotion(&promotion); err != nil {
		invalid(c, err)
		return
	}

	if err := h.db.Create(&promotion).Error; err != nil {
		h.logger.Error("Failed to create promotion", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create promotion"})
		return
	}

	h.changed(c.Request.Context(), "promotion.created", promotion.ID)
	c.JSON(http.StatusCreated, gin.H{"data": promotion})
}

func (h *PromotionHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var promotion models.Promotion
	if err := h.db.First(&promotion, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Promotion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch promotion"})
		return
	}

	if err := c.ShouldBindJSON(&promotion); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	promotion.ID = id
	if err := h.validator.ValidatePromotion(&promotion); err != nil {
		invalid(c, err)
		return
	}

	if err := h.db.Save(&promotion).Error; err != nil {
		h.logger.Error("Failed to update promotion", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update promotion"})
		return
	}

	h.changed(c.Request.Context(), "promotion.updated", id)
	c.JSON(http.StatusOK, gin.H{"data": promotion})
}

func (h *PromotionHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	res := h.db.Delete(&models.Promotion{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete promotion"})
		return
	}
	if res.RowsAffected > 0 {
		h.changed(c.Request.Context(), "promotion.deleted", id)
	}

	c.Status(http.StatusNoContent)
}

func (h *PromotionHandler) changed(ctx context.Context, eventType, id string) {
	event := events.Event{Type: eventType, Data: map[string]interface{}{"id": id}}
	if err := h.changes.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish catalog change", "type", eventType, "id", id, "error", err)
	}
}
