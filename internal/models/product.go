package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Product struct {
	ID             string            `json:"id" gorm:"type:varchar(36);primaryKey"`
	ExternalID     string            `json:"external_id" gorm:"not null;index"`
	SKU            string            `json:"sku" gorm:"uniqueIndex;not null"`
	Title          string            `json:"title" gorm:"not null"`
	Description    *string           `json:"description"`
	Brand          *string           `json:"brand"`
	GTIN           *string           `json:"gtin"`
	MPN            *string           `json:"mpn"`
	Category       *string           `json:"category"`
	Link           string            `json:"link"`
	Price          float64           `json:"price" gorm:"type:decimal(10,2)"`
	CompareAtPrice *float64          `json:"compare_at_price" gorm:"type:decimal(10,2)"`
	Currency       string            `json:"currency" gorm:"default:USD"`
	Availability   string            `json:"availability" gorm:"default:IN_STOCK"`
	Condition      string            `json:"condition" gorm:"default:new"`
	Images         []string          `json:"images" gorm:"serializer:json"`
	CustomLabels   []string          `json:"custom_labels" gorm:"serializer:json"`
	Metadata       map[string]string `json:"metadata" gorm:"serializer:json"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type ProductAvailability string

const (
	AvailabilityInStock    ProductAvailability = "IN_STOCK"
	AvailabilityOutOfStock ProductAvailability = "OUT_OF_STOCK"
	AvailabilityPreorder   ProductAvailability = "PREORDER"
	AvailabilityBackorder  ProductAvailability = "BACKORDER"
)

// FeedAvailability maps the stored availability onto the catalog feed vocabulary.
func (p *Product) FeedAvailability() string {
	switch ProductAvailability(p.Availability) {
	case AvailabilityOutOfStock:
		return "out of stock"
	case AvailabilityPreorder:
		return "preorder"
	case AvailabilityBackorder:
		return "available for order"
	default:
		return "in stock"
	}
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
