package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"feedsync/internal/logger"
	"feedsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(t *testing.T, err error) []string {
	t.Helper()
	var verr *Error
	require.True(t, errors.As(err, &verr), "expected *Error, got %v", err)
	var out []string
	for _, issue := range verr.Issues {
		out = append(out, issue.Field)
	}
	return out
}

func TestValidateProduct(t *testing.T) {
	v := New(logger.NewNop())
	negative := -1.0

	tests := []struct {
		name    string
		product models.Product
		want    []string
	}{
		{
			name:    "valid",
			product: models.Product{SKU: "A-1", Title: "Shoe", Price: 10, Link: "https://shop.test/shoe", Images: []string{"https://cdn.test/1.jpg"}},
		},
		{
			name:    "missing identity",
			product: models.Product{Price: 10},
			want:    []string{"sku", "title"},
		},
		{
			name:    "bad prices and currency",
			product: models.Product{SKU: "A-1", Title: "Shoe", Price: -5, CompareAtPrice: &negative, Currency: "EURO"},
			want:    []string{"price", "compare_at_price", "currency"},
		},
		{
			name:    "relative urls",
			product: models.Product{SKU: "A-1", Title: "Shoe", Link: "/shoe", Images: []string{"ok.jpg"}},
			want:    []string{"link", "images[0]"},
		},
		{
			name:    "long title and unknown availability",
			product: models.Product{SKU: "A-1", Title: strings.Repeat("x", maxTitleLength+1), Availability: "SOMETIMES"},
			want:    []string{"title", "availability"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateProduct(&tt.product)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fields(t, err))
		})
	}
}

func TestValidatePromotion(t *testing.T) {
	v := New(logger.NewNop())
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	pct := 15
	tooMuch := 150
	amount := 5.0

	tests := []struct {
		name      string
		promotion models.Promotion
		want      []string
	}{
		{
			name:      "valid percentage",
			promotion: models.Promotion{OfferID: "SUMMER", Title: "Summer", ValueType: models.PromotionValuePercentage, PercentOff: &pct, StartsAt: start},
		},
		{
			name:      "valid fixed amount",
			promotion: models.Promotion{OfferID: "FIVE", Title: "Five off", ValueType: models.PromotionValueFixedAmount, FixedAmountOff: &amount, StartsAt: start},
		},
		{
			name:      "percentage out of range",
			promotion: models.Promotion{OfferID: "X", Title: "X", ValueType: models.PromotionValuePercentage, PercentOff: &tooMuch, StartsAt: start},
			want:      []string{"percent_off"},
		},
		{
			name:      "fixed amount missing",
			promotion: models.Promotion{OfferID: "X", Title: "X", ValueType: models.PromotionValueFixedAmount, StartsAt: start},
			want:      []string{"fixed_amount_off"},
		},
		{
			name:      "unknown type and inverted window",
			promotion: models.Promotion{OfferID: "X", Title: "X", ValueType: "BOGO", StartsAt: start, EndsAt: &before},
			want:      []string{"value_type", "ends_at"},
		},
		{
			name:      "empty",
			promotion: models.Promotion{},
			want:      []string{"offer_id", "title", "value_type", "starts_at"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidatePromotion(&tt.promotion)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fields(t, err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Issues: []Issue{{Field: "sku", Message: "is required"}, {Field: "title", Message: "is required"}}}
	assert.Equal(t, "validation failed: sku: is required; title: is required", err.Error())
}
