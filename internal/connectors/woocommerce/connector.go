// Package woocommerce reads catalog data from the WooCommerce REST API.
package woocommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/logger"
)

// MaxPerPage is the largest page the REST API serves.
const MaxPerPage = 100

type Product struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	SKU              string     `json:"sku"`
	Permalink        string     `json:"permalink"`
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description"`
	Price            string     `json:"price"`
	RegularPrice     string     `json:"regular_price"`
	SalePrice        string     `json:"sale_price"`
	StockStatus      string     `json:"stock_status"`
	Images           []Image    `json:"images"`
	Categories       []Category `json:"categories"`
}

type Image struct {
	Src string `json:"src"`
}

type Category struct {
	Name string `json:"name"`
}

type WooCommerceConnector struct {
	storeURL       string
	consumerKey    string
	consumerSecret string
	httpClient     *http.Client
	logger         *logger.Logger
}

func New(cfg *config.Config, logger *logger.Logger) *WooCommerceConnector {
	return &WooCommerceConnector{
		storeURL:       strings.TrimRight(cfg.WooCommerceURL, "/"),
		consumerKey:    cfg.WooCommerceConsumerKey,
		consumerSecret: cfg.WooCommerceConsumerSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ListProducts fetches one page of published products ordered by ascending id.
func (wc *WooCommerceConnector) ListProducts(ctx context.Context, page, perPage int) ([]Product, error) {
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page < 1 {
		page = 1
	}

	url := wc.storeURL + "/wp-json/wc/v3/products"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(wc.consumerKey, wc.consumerSecret)
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("orderby", "id")
	q.Set("order", "asc")
	q.Set("status", "publish")
	req.URL.RawQuery = q.Encode()

	resp, err := wc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	// pages past the end answer 400 on some store versions
	if resp.StatusCode == http.StatusBadRequest && page > 1 {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed: %d - %s", resp.StatusCode, string(body))
	}

	var products []Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	wc.logger.Debug("Fetched WooCommerce products", "page", page, "count", len(products))
	return products, nil
}
