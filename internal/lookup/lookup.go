// Package lookup resolves scanned barcodes to product names.
package lookup

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrInvalidCode = errors.New("barcode must be 8 to 14 digits")
	ErrNotFound    = errors.New("product not found")
	ErrUnavailable = errors.New("product lookup unavailable")
)

var codeRE = regexp.MustCompile(`^\d{8,14}$`)

// Product is what a lookup service knows about a barcode. Product databases
// rarely carry shelf prices, so no amount is returned.
type Product struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Brand string `json:"brand,omitempty"`
}

// DisplayName combines brand and name for the ledger
func (p *Product) DisplayName() string {
	switch {
	case p.Brand == "":
		return p.Name
	case p.Name == "":
		return p.Brand
	default:
		return p.Brand + " " + p.Name
	}
}

// ProductLookup resolves a decoded barcode
type ProductLookup interface {
	Lookup(ctx context.Context, code string) (*Product, error)
}

// ValidateCode checks that code looks like an EAN/UPC/GTIN barcode
func ValidateCode(code string) error {
	if !codeRE.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}
