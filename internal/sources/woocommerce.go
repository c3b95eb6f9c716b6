package sources

import (
	"context"
	"fmt"
	"strconv"

	"feedsync/internal/connectors/woocommerce"
	"feedsync/internal/feed"
	"feedsync/internal/models"
)

// ProductLister is the part of the WooCommerce connector the source needs.
type ProductLister interface {
	ListProducts(ctx context.Context, page, perPage int) ([]woocommerce.Product, error)
}

// WooCommerceSource reads products straight from a WooCommerce store. The REST
// API only pages by number, so batch n starts at page n and moves on while a
// page has nothing past the cursor; batch sizes above woocommerce.MaxPerPage
// are capped.
type WooCommerceSource struct {
	lister ProductLister
}

var _ feed.RecordSource = (*WooCommerceSource)(nil)

func NewWooCommerceSource(lister ProductLister) *WooCommerceSource {
	return &WooCommerceSource{lister: lister}
}

func (s *WooCommerceSource) Header() []string {
	return productColumns
}

func (s *WooCommerceSource) GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]feed.Record, error) {
	if batchSize > 0 {
		perPage := min(batchSize, woocommerce.MaxPerPage)
		// a page holding only already written products means the numbering
		// shifted; only an empty page ends the catalog
		for page := batchNumber; ; page++ {
			products, err := s.lister.ListProducts(ctx, page, perPage)
			if err != nil {
				return nil, err
			}
			if len(products) == 0 {
				return nil, nil
			}
			if records := wooRecords(products, cursor); len(records) > 0 {
				return records, nil
			}
		}
	}

	var records []feed.Record
	for page := 1; ; page++ {
		products, err := s.lister.ListProducts(ctx, page, woocommerce.MaxPerPage)
		if err != nil {
			return nil, err
		}
		records = append(records, wooRecords(products, cursor)...)
		if len(products) < woocommerce.MaxPerPage {
			return records, nil
		}
	}
}

// wooRecords drops products at or before cursor, which a shifted page can
// serve twice.
func wooRecords(products []woocommerce.Product, cursor string) []feed.Record {
	records := make([]feed.Record, 0, len(products))
	for i := range products {
		p := toProduct(&products[i])
		if cursor != "" && p.ID <= cursor {
			continue
		}
		records = append(records, productRecord{p})
	}
	return records
}

func toProduct(wp *woocommerce.Product) *models.Product {
	p := &models.Product{
		// zero padded so string order follows id order
		ID:           fmt.Sprintf("%012d", wp.ID),
		ExternalID:   strconv.FormatInt(wp.ID, 10),
		SKU:          wp.SKU,
		Title:        wp.Name,
		Link:         wp.Permalink,
		Currency:     "USD",
		Condition:    "new",
		Availability: string(models.AvailabilityInStock),
	}
	if p.SKU == "" {
		p.SKU = p.ExternalID
	}

	if d := wp.ShortDescription; d != "" {
		p.Description = &d
	} else if d := wp.Description; d != "" {
		p.Description = &d
	}

	regular, _ := strconv.ParseFloat(wp.RegularPrice, 64)
	price, err := strconv.ParseFloat(wp.Price, 64)
	if err != nil {
		price = regular
	}
	p.Price = price
	if regular > price {
		p.CompareAtPrice = &regular
	}

	switch wp.StockStatus {
	case "outofstock":
		p.Availability = string(models.AvailabilityOutOfStock)
	case "onbackorder":
		p.Availability = string(models.AvailabilityBackorder)
	}

	for _, img := range wp.Images {
		p.Images = append(p.Images, img.Src)
	}
	if len(wp.Categories) > 0 {
		c := wp.Categories[0].Name
		p.Category = &c
	}
	return p
}
