package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenFoodFacts implements ProductLookup against the Open Food Facts API
type OpenFoodFacts struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewOpenFoodFacts creates a client. The timeout bounds every lookup.
func NewOpenFoodFacts(baseURL string, userAgent string, timeout time.Duration) *OpenFoodFacts {
	if baseURL == "" {
		baseURL = "https://world.openfoodfacts.org"
	}
	if userAgent == "" {
		userAgent = "flashka/dev"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OpenFoodFacts{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type offResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName string `json:"product_name"`
		Brands      string `json:"brands"`
	} `json:"product"`
}

// Lookup fetches the product name for a barcode
func (o *OpenFoodFacts) Lookup(ctx context.Context, code string) (*Product, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v2/product/%s.json?fields=product_name,brands", o.baseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var off offResponse
	if err := json.NewDecoder(resp.Body).Decode(&off); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrUnavailable, err)
	}
	if off.Status != 1 {
		return nil, ErrNotFound
	}

	// brands is a comma separated list, the first one is the label brand
	brand, _, _ := strings.Cut(off.Product.Brands, ",")

	return &Product{
		Code:  code,
		Name:  strings.TrimSpace(off.Product.ProductName),
		Brand: strings.TrimSpace(brand),
	}, nil
}
