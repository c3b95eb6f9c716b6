package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Promotion struct {
	ID                     string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	OfferID                string         `json:"offer_id" gorm:"uniqueIndex;not null"`
	Title                  string         `json:"title" gorm:"not null"`
	ValueType              PromotionValue `json:"value_type" gorm:"not null"`
	FixedAmountOff         *float64       `json:"fixed_amount_off" gorm:"type:decimal(10,2)"`
	PercentOff             *int           `json:"percent_off"`
	Currency               string         `json:"currency" gorm:"default:USD"`
	TargetSelection        string         `json:"target_selection" gorm:"default:ALL_CATALOG_PRODUCTS"`
	TargetProductIDs       []string       `json:"target_product_ids" gorm:"serializer:json"`
	MinSubtotal            *float64       `json:"min_subtotal" gorm:"type:decimal(10,2)"`
	CouponCodes            []string       `json:"coupon_codes" gorm:"serializer:json"`
	RedemptionLimitPerUser *int           `json:"redemption_limit_per_user"`
	StartsAt               time.Time      `json:"starts_at" gorm:"not null"`
	EndsAt                 *time.Time     `json:"ends_at" gorm:"index"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

type PromotionValue string

const (
	PromotionValueFixedAmount PromotionValue = "FIXED_AMOUNT"
	PromotionValuePercentage  PromotionValue = "PERCENTAGE"
)

func (p *Promotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}
