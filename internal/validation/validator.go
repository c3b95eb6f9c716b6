// Package validation checks catalog entities before they are stored, so the
// feeds built from them are accepted by the remote catalog.
package validation

import (
	"fmt"
	"net/url"
	"strings"

	"feedsync/internal/logger"
	"feedsync/internal/models"
)

const maxTitleLength = 150

type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error carries every issue found on one entity.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Field + ": " + issue.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

type Validator struct {
	logger *logger.Logger
}

func New(logger *logger.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateProduct returns an *Error when the product would be rejected by the
// catalog.
func (v *Validator) ValidateProduct(p *models.Product) error {
	var issues []Issue
	add := func(field, format string, args ...interface{}) {
		issues = append(issues, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(p.SKU) == "" {
		add("sku", "is required")
	}
	switch title := strings.TrimSpace(p.Title); {
	case title == "":
		add("title", "is required")
	case len([]rune(title)) > maxTitleLength:
		add("title", "must be at most %d characters", maxTitleLength)
	}
	if p.Price < 0 {
		add("price", "must not be negative")
	}
	if p.CompareAtPrice != nil && *p.CompareAtPrice < 0 {
		add("compare_at_price", "must not be negative")
	}
	if p.Currency != "" && len(p.Currency) != 3 {
		add("currency", "must be an ISO 4217 code")
	}
	if p.Link != "" && !isHTTPURL(p.Link) {
		add("link", "must be an absolute http(s) URL")
	}
	for i, img := range p.Images {
		if !isHTTPURL(img) {
			add(fmt.Sprintf("images[%d]", i), "must be an absolute http(s) URL")
		}
	}
	switch models.ProductAvailability(p.Availability) {
	case "", models.AvailabilityInStock, models.AvailabilityOutOfStock, models.AvailabilityPreorder, models.AvailabilityBackorder:
	default:
		add("availability", "unknown value %q", p.Availability)
	}

	return v.result("product", p.SKU, issues)
}

func (v *Validator) ValidatePromotion(p *models.Promotion) error {
	var issues []Issue
	add := func(field, msg string) {
		issues = append(issues, Issue{Field: field, Message: msg})
	}

	if strings.TrimSpace(p.OfferID) == "" {
		add("offer_id", "is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		add("title", "is required")
	}

	switch p.ValueType {
	case models.PromotionValueFixedAmount:
		if p.FixedAmountOff == nil || *p.FixedAmountOff <= 0 {
			add("fixed_amount_off", "is required for FIXED_AMOUNT promotions")
		}
	case models.PromotionValuePercentage:
		if p.PercentOff == nil || *p.PercentOff <= 0 || *p.PercentOff > 100 {
			add("percent_off", "must be between 1 and 100 for PERCENTAGE promotions")
		}
	default:
		add("value_type", "must be FIXED_AMOUNT or PERCENTAGE")
	}

	if p.StartsAt.IsZero() {
		add("starts_at", "is required")
	} else if p.EndsAt != nil && !p.EndsAt.After(p.StartsAt) {
		add("ends_at", "must be after starts_at")
	}

	return v.result("promotion", p.OfferID, issues)
}

func (v *Validator) result(kind, id string, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	v.logger.Debug("Validation failed", "kind", kind, "id", id, "issues", len(issues))
	return &Error{Issues: issues}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
