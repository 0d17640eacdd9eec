package shopping

import (
	"time"

	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/money"
)

// ScanResult is what a scan produced: the candidate awaiting confirmation,
// the raw text it came from and the stored image, if any.
type ScanResult struct {
	Candidate *ledger.Candidate `json:"candidate,omitempty"`
	Text      string            `json:"text,omitempty"`
	ImageRef  string            `json:"image_ref,omitempty"`
}

// Summary is the current state of a session's ledger
type Summary struct {
	Entries          []ledger.Entry `json:"entries"`
	Total            money.Amount   `json:"total"`
	UnpurchasedTotal money.Amount   `json:"unpurchased_total"`
}

// LoyaltyCard is a stored store card. The card number is only kept as an
// Argon2id hash and can be verified but not read back.
type LoyaltyCard struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NumberHash string    `json:"-"`
	Barcode    string    `json:"barcode,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCard is the input for adding a loyalty card
type NewCard struct {
	Name     string `json:"name"`
	Number   string `json:"number"`
	Barcode  string `json:"barcode"`
	ImageRef string `json:"image_ref"`
}
