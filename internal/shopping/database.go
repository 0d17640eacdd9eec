package shopping

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/money"
)

const (
	metaBucketName     = "meta"
	sessionsBucketName = "sessions"
	cardsBucketName    = "cards"

	schemaVersionKey = "schema_version"
	schemaVersion    = 1
)

var (
	// ErrSchemaVersion means the database was written by an incompatible version
	ErrSchemaVersion = errors.New("unsupported database schema version")
	// ErrCardNotFound means no loyalty card has the requested id
	ErrCardNotFound = errors.New("loyalty card not found")
	// ErrSessionNotFound means the session was never created
	ErrSessionNotFound = errors.New("session not found")
)

// DB defines the interface for database operations
type DB interface {
	// CreateSession registers an empty session
	CreateSession(id string) error

	// ListEntries returns every persisted entry of a session in no particular order.
	// Unknown sessions return ErrSessionNotFound.
	ListEntries(sessionID string) ([]ledger.Entry, error)

	// SaveEntry inserts or replaces an entry of an existing session
	SaveEntry(sessionID string, entry ledger.Entry) error

	// DeleteEntry removes an entry. Unknown ids are ignored.
	DeleteEntry(sessionID, id string) error

	SaveCard(card *LoyaltyCard) error
	GetCard(id string) (*LoyaltyCard, error)
	ListCards() ([]*LoyaltyCard, error)
	DeleteCard(id string) error

	// ImageInUse reports whether any entry of any session, or any card, holds ref
	ImageInUse(ref string) (bool, error)

	// Close closes the database connection
	Close() error
}

// entryRecord is the stored form of a ledger entry
type entryRecord struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Price     money.Amount `json:"price"`
	Quantity  int          `json:"quantity"`
	Purchased bool         `json:"purchased"`
	ImageRef  string       `json:"image_ref,omitempty"`
	Position  uint64       `json:"position"`
}

func newEntryRecord(e ledger.Entry) entryRecord {
	return entryRecord{
		ID:        e.ID,
		Name:      e.Name,
		Price:     e.Amount,
		Quantity:  e.Quantity,
		Purchased: e.Purchased,
		ImageRef:  e.ImageRef,
		Position:  e.Position,
	}
}

func (r entryRecord) entry() ledger.Entry {
	return ledger.Entry{
		ID:        r.ID,
		Name:      r.Name,
		Amount:    r.Price,
		Quantity:  r.Quantity,
		Purchased: r.Purchased,
		ImageRef:  r.ImageRef,
		Position:  r.Position,
	}
}

// cardRecord is the stored form of a loyalty card
type cardRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NumberHash string    `json:"number_hash"`
	Barcode    string    `json:"barcode,omitempty"`
	ImageRef   string    `json:"image_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BoltDB implements the DB interface using BoltDB.
// Each session's entries live in a nested bucket under "sessions".
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the database and checks its schema version
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return err
		}
		if err := checkSchemaVersion(meta); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(sessionsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(cardsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// checkSchemaVersion stamps a fresh database and rejects any other version
func checkSchemaVersion(meta *bbolt.Bucket) error {
	current := meta.Get([]byte(schemaVersionKey))
	if current == nil {
		return meta.Put([]byte(schemaVersionKey), []byte(strconv.Itoa(schemaVersion)))
	}
	v, err := strconv.Atoi(string(current))
	if err != nil || v != schemaVersion {
		return fmt.Errorf("%w: found %q, want %d", ErrSchemaVersion, current, schemaVersion)
	}
	return nil
}

// CreateSession registers an empty session
func (b *BoltDB) CreateSession(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.Bucket([]byte(sessionsBucketName)).CreateBucketIfNotExists([]byte(id))
		return err
	})
}

// ListEntries returns every persisted entry of a session
func (b *BoltDB) ListEntries(sessionID string) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucketName)).Bucket([]byte(sessionID))
		if bucket == nil {
			return ErrSessionNotFound
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec entryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			entries = append(entries, rec.entry())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveEntry inserts or replaces an entry of an existing session
func (b *BoltDB) SaveEntry(sessionID string, entry ledger.Entry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucketName)).Bucket([]byte(sessionID))
		if bucket == nil {
			return ErrSessionNotFound
		}
		data, err := json.Marshal(newEntryRecord(entry))
		if err != nil {
			return fmt.Errorf("marshaling entry: %w", err)
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

// DeleteEntry removes an entry from a session
func (b *BoltDB) DeleteEntry(sessionID, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucketName)).Bucket([]byte(sessionID))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveCard saves a loyalty card
func (b *BoltDB) SaveCard(card *LoyaltyCard) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(cardRecord{
			ID:         card.ID,
			Name:       card.Name,
			NumberHash: card.NumberHash,
			Barcode:    card.Barcode,
			ImageRef:   card.ImageRef,
			CreatedAt:  card.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshaling card: %w", err)
		}
		return tx.Bucket([]byte(cardsBucketName)).Put([]byte(card.ID), data)
	})
}

// GetCard retrieves a loyalty card by ID
func (b *BoltDB) GetCard(id string) (*LoyaltyCard, error) {
	var card *LoyaltyCard
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cardsBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		var err error
		card, err = decodeCard(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns all loyalty cards
func (b *BoltDB) ListCards() ([]*LoyaltyCard, error) {
	cards := make([]*LoyaltyCard, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cardsBucketName)).ForEach(func(k, v []byte) error {
			card, err := decodeCard(v)
			if err != nil {
				return err
			}
			cards = append(cards, card)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// DeleteCard removes a loyalty card
func (b *BoltDB) DeleteCard(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(cardsBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// ImageInUse scans every session and card for ref
func (b *BoltDB) ImageInUse(ref string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(sessionsBucketName))
		err := sessions.ForEach(func(name, v []byte) error {
			// entries only live in nested buckets
			if v != nil || found {
				return nil
			}
			return sessions.Bucket(name).ForEach(func(k, v []byte) error {
				held, err := holdsImage(v, ref)
				if err != nil {
					return fmt.Errorf("unmarshaling entry %s: %w", k, err)
				}
				found = found || held
				return nil
			})
		})
		if err != nil || found {
			return err
		}

		return tx.Bucket([]byte(cardsBucketName)).ForEach(func(k, v []byte) error {
			held, err := holdsImage(v, ref)
			if err != nil {
				return fmt.Errorf("unmarshaling card %s: %w", k, err)
			}
			found = found || held
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func holdsImage(data []byte, ref string) (bool, error) {
	var rec struct {
		ImageRef string `json:"image_ref"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, err
	}
	return rec.ImageRef == ref, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func decodeCard(data []byte) (*LoyaltyCard, error) {
	var rec cardRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling card: %w", err)
	}
	return &LoyaltyCard{
		ID:         rec.ID,
		Name:       rec.Name,
		NumberHash: rec.NumberHash,
		Barcode:    rec.Barcode,
		ImageRef:   rec.ImageRef,
		CreatedAt:  rec.CreatedAt,
	}, nil
}
