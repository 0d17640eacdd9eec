package ledger

import (
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/zombor/flashka/internal/money"
)

var (
	ErrNotFound        = errors.New("entry not found")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrNameTaken means a rename would give two entries the same name
	ErrNameTaken = errors.New("another entry already has that name")
)

// Ledger is the ordered list of confirmed entries for one session.
// Totals are always derived from the entries.
//
// A Ledger is not safe for concurrent use; the owner serialises access.
type Ledger struct {
	entries []*Entry
	newID   func() string
	nextPos uint64
}

// Option configures a Ledger
type Option func(*Ledger)

// WithIDGenerator replaces the default uuid generator
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		l.newID = gen
	}
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{newID: uuid.NewString}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore builds a ledger from previously persisted entries, ordered by Position
func Restore(entries []Entry, opts ...Option) *Ledger {
	l := New(opts...)
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	for i := range sorted {
		e := sorted[i]
		l.entries = append(l.entries, &e)
		if e.Position >= l.nextPos {
			l.nextPos = e.Position + 1
		}
	}
	return l
}

// Add records a confirmed candidate. An existing entry with exactly the same
// name has its quantity increased instead of a new entry being appended.
func (l *Ledger) Add(c Candidate, quantity int) (Entry, error) {
	if quantity <= 0 {
		return Entry{}, ErrInvalidQuantity
	}

	if e := l.findByName(c.Name); e != nil {
		e.Quantity += quantity
		return *e, nil
	}

	e := &Entry{
		ID:       l.newID(),
		Name:     c.Name,
		Amount:   c.Amount,
		Quantity: quantity,
		ImageRef: c.ImageRef,
		Position: l.nextPos,
	}
	l.nextPos++
	l.entries = append(l.entries, e)
	return *e, nil
}

// Remove deletes the entry with the given id. Unknown ids are ignored.
func (l *Ledger) Remove(id string) (Entry, bool) {
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return *e, true
		}
	}
	return Entry{}, false
}

// TogglePurchased flips the purchased flag. Unknown ids are ignored.
func (l *Ledger) TogglePurchased(id string) (Entry, bool) {
	e := l.find(id)
	if e == nil {
		return Entry{}, false
	}
	e.Purchased = !e.Purchased
	return *e, true
}

// Update replaces the given fields in place. Renaming onto another entry's
// name is rejected so that names stay unique. On error the entry is unchanged.
func (l *Ledger) Update(id string, u Update) (Entry, error) {
	e := l.find(id)
	if e == nil {
		return Entry{}, ErrNotFound
	}

	if u.Name != nil && *u.Name != e.Name && l.findByName(*u.Name) != nil {
		return *e, ErrNameTaken
	}

	amount := e.Amount
	if u.Amount != nil {
		a, err := money.New(*u.Amount)
		if err != nil {
			return *e, ErrInvalidAmount
		}
		amount = a
	}
	if u.Quantity != nil && *u.Quantity <= 0 {
		return *e, ErrInvalidQuantity
	}

	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.Quantity != nil {
		e.Quantity = *u.Quantity
	}
	e.Amount = amount
	return *e, nil
}

// Entries returns copies of all entries in insertion order
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}

// Total sums amount x quantity over every entry
func (l *Ledger) Total() money.Amount {
	return l.sum(func(Entry) bool { return true })
}

// UnpurchasedTotal sums amount x quantity over entries not yet purchased
func (l *Ledger) UnpurchasedTotal() money.Amount {
	return l.sum(func(e Entry) bool { return !e.Purchased })
}

func (l *Ledger) sum(include func(Entry) bool) money.Amount {
	total := money.Zero
	for _, e := range l.entries {
		if include(*e) {
			total = total.Add(e.Subtotal())
		}
	}
	return total
}

func (l *Ledger) find(id string) *Entry {
	for _, e := range l.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (l *Ledger) findByName(name string) *Entry {
	for _, e := range l.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}
