// Package sources reads feed records out of the catalog database.
package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"feedsync/internal/feed"
	"feedsync/internal/models"

	"gorm.io/gorm"
)

var productColumns = []string{
	"id", "title", "description", "availability", "condition", "price", "sale_price",
	"link", "image_link", "additional_image_link", "brand", "gtin", "mpn",
	"google_product_category", "custom_label_0", "custom_label_1",
}

// ProductSource pages products by ascending id.
type ProductSource struct {
	db *gorm.DB
}

var _ feed.RecordSource = (*ProductSource)(nil)

func NewProductSource(db *gorm.DB) *ProductSource {
	return &ProductSource{db: db}
}

func (s *ProductSource) Header() []string {
	return productColumns
}

func (s *ProductSource) GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]feed.Record, error) {
	var products []models.Product
	if err := keyset(s.db.WithContext(ctx), cursor, batchSize).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	records := make([]feed.Record, len(products))
	for i := range products {
		records[i] = productRecord{&products[i]}
	}
	return records, nil
}

type productRecord struct {
	p *models.Product
}

func (r productRecord) Key() string {
	return r.p.ID
}

func (r productRecord) Row() []string {
	p := r.p

	price := formatPrice(p.Price, p.Currency)
	salePrice := ""
	// a compare-at price above the price means the product is on sale
	if p.CompareAtPrice != nil && *p.CompareAtPrice > p.Price {
		salePrice = price
		price = formatPrice(*p.CompareAtPrice, p.Currency)
	}

	var image, additional string
	if len(p.Images) > 0 {
		image = p.Images[0]
		additional = strings.Join(p.Images[1:], ",")
	}

	return []string{
		p.SKU,
		p.Title,
		deref(p.Description),
		p.FeedAvailability(),
		p.Condition,
		price,
		salePrice,
		p.Link,
		image,
		additional,
		deref(p.Brand),
		deref(p.GTIN),
		deref(p.MPN),
		deref(p.Category),
		label(p.CustomLabels, 0),
		label(p.CustomLabels, 1),
	}
}

func keyset(db *gorm.DB, cursor string, batchSize int) *gorm.DB {
	q := db.Order("id ASC")
	if cursor != "" {
		q = q.Where("id > ?", cursor)
	}
	if batchSize > 0 {
		q = q.Limit(batchSize)
	}
	return q
}

func formatPrice(amount float64, currency string) string {
	return strconv.FormatFloat(amount, 'f', 2, 64) + " " + currency
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func label(labels []string, i int) string {
	if i < len(labels) {
		return labels[i]
	}
	return ""
}
