package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/feed"
	"feedsync/internal/models"

	"gorm.io/gorm"
)

var promotionColumns = []string{
	"offer_id", "title", "value_type", "fixed_amount_off", "percent_off",
	"target_selection", "target_product_retailer_ids", "min_subtotal", "coupon_codes",
	"redemption_limit_per_user", "start_date_time", "end_date_time",
}

// PromotionSource pages promotions that have not ended yet.
type PromotionSource struct {
	db  *gorm.DB
	now func() time.Time
}

var _ feed.RecordSource = (*PromotionSource)(nil)

func NewPromotionSource(db *gorm.DB) *PromotionSource {
	return &PromotionSource{db: db, now: time.Now}
}

func (s *PromotionSource) Header() []string {
	return promotionColumns
}

func (s *PromotionSource) GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]feed.Record, error) {
	var promotions []models.Promotion
	err := keyset(s.db.WithContext(ctx), cursor, batchSize).
		Where("(ends_at IS NULL OR ends_at > ?)", s.now().UTC()).
		Find(&promotions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load promotions: %w", err)
	}

	records := make([]feed.Record, len(promotions))
	for i := range promotions {
		records[i] = promotionRecord{&promotions[i]}
	}
	return records, nil
}

type promotionRecord struct {
	p *models.Promotion
}

func (r promotionRecord) Key() string {
	return r.p.ID
}

func (r promotionRecord) Row() []string {
	p := r.p

	var fixed, percent, minSubtotal, limit, ends string
	if p.FixedAmountOff != nil {
		fixed = formatPrice(*p.FixedAmountOff, p.Currency)
	}
	if p.PercentOff != nil {
		percent = strconv.Itoa(*p.PercentOff)
	}
	if p.MinSubtotal != nil {
		minSubtotal = formatPrice(*p.MinSubtotal, p.Currency)
	}
	if p.RedemptionLimitPerUser != nil {
		limit = strconv.Itoa(*p.RedemptionLimitPerUser)
	}
	if p.EndsAt != nil {
		ends = p.EndsAt.UTC().Format(time.RFC3339)
	}

	return []string{
		p.OfferID,
		p.Title,
		string(p.ValueType),
		fixed,
		percent,
		p.TargetSelection,
		strings.Join(p.TargetProductIDs, ","),
		minSubtotal,
		strings.Join(p.CouponCodes, ","),
		limit,
		p.StartsAt.UTC().Format(time.RFC3339),
		ends,
	}
}
