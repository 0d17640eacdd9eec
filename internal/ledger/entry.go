package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/flashka/internal/money"
)

// Candidate is an unconfirmed name and amount awaiting user approval.
// Candidates are never persisted.
type Candidate struct {
	Name     string       `json:"name"`
	Amount   money.Amount `json:"amount"`
	ImageRef string       `json:"image_ref,omitempty"`
}

// Entry is a confirmed line item owned by a Ledger
type Entry struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Amount    money.Amount `json:"amount"`
	Quantity  int          `json:"quantity"`
	Purchased bool         `json:"purchased"`
	ImageRef  string       `json:"image_ref,omitempty"`
	Position  uint64       `json:"position"`
}

// Subtotal is amount x quantity
func (e Entry) Subtotal() money.Amount {
	return e.Amount.Mul(e.Quantity)
}

// Update lists the fields to replace on an entry. Nil fields are left alone.
type Update struct {
	Name     *string          `json:"name,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Quantity *int             `json:"quantity,omitempty"`
}
