package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"feedsync/internal/events"
	"feedsync/internal/logger"
	"feedsync/internal/models"
	"feedsync/internal/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ProductHandler struct {
	db        *gorm.DB
	changes   events.Publisher
	validator *validation.Validator
	logger    *logger.Logger
}

// NewProductHandler publishes product.* change events to changes after every
// successful write so the products feed gets rebuilt.
func NewProductHandler(db *gorm.DB, changes events.Publisher, logger *logger.Logger) *ProductHandler {
	if changes == nil {
		changes = events.NopPublisher{}
	}
	return &ProductHandler{
		db:        db,
		changes:   changes,
		validator: validation.New(logger),
		logger:    logger,
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	var products []models.Product

	// Pagination
	page, limit := pagination(c)
	offset := (page - 1) * limit

	// Filters
	status := c.Query("status")
	search := strings.ToLower(c.Query("search"))

	query := h.db.Model(&models.Product{})

	if status != "" {
		query = query.Where("availability = ?", status)
	}

	if search != "" {
		query = query.Where("LOWER(title) LIKE ? OR LOWER(sku) LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var total int64
	query.Count(&total)

	if err := query.Order("id").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		h.logger.Error("Failed to fetch products", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": products,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *ProductHandler) Get(c *gin.Context) {
	id := c.Param("id")

	var product models.Product
	if err := h.db.First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) Create(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validator.ValidateProduct(&product); err != nil {
		invalid(c, err)
		return
	}

	if err := h.db.Create(&product).Error; err != nil {
		h.logger.Error("Failed to create product", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product"})
		return
	}

	h.changed(c.Request.Context(), "product.created", product.ID)
	c.JSON(http.StatusCreated, gin.H{"data": product})
}

func (h *ProductHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var product models.Product
	if err := h.db.First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}

	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product.ID = id
	if err := h.validator.ValidateProduct(&product); err != nil {
		invalid(c, err)
		return
	}

	if err := h.db.Save(&product).Error; err != nil {
		h.logger.Error("Failed to update product", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product"})
		return
	}

	h.changed(c.Request.Context(), "product.updated", product.ID)
	c.JSON(http.StatusOK, gin.H{"data": product})
}

func (h *ProductHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	res := h.db.Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product"})
		return
	}
	if res.RowsAffected > 0 {
		h.changed(c.Request.Context(), "product.deleted", id)
	}

	c.Status(http.StatusNoContent)
}

func (h *ProductHandler) changed(ctx context.Context, eventType, id string) {
	event := events.Event{Type: eventType, Data: map[string]interface{}{"id": id}}
	if err := h.changes.Publish(ctx, event); err != nil {
		h.logger.Warn("Failed to publish catalog change", "type", eventType, "id", id, "error", err)
	}
}

// invalid answers 422 with the issues of a *validation.Error.
func invalid(c *gin.Context, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "issues": verr.Issues})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
