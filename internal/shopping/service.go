package shopping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/flashka/internal/events"
	"github.com/zombor/flashka/internal/extract"
	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/lookup"
	"github.com/zombor/flashka/internal/money"
	"github.com/zombor/flashka/internal/scanning"
)

var (
	// ErrInvalidSession means the session id is empty
	ErrInvalidSession = errors.New("session id required")
	// ErrInvalidCard means a card was submitted without a name or number
	ErrInvalidCard = errors.New("card name and number are required")
	// ErrNoProductName means the product lookup knew the code but not what it is
	ErrNoProductName = errors.New("product has no name")
	// ErrImageInUse means the image already belongs to an entry or a card
	ErrImageInUse = errors.New("image belongs to an entry or card")
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for sessions, entries, images and cards
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Sources groups the collaborators that turn captures into text or products.
// Any of them may be nil when not configured.
type Sources struct {
	Images   scanning.ImageTextSource
	Speech   scanning.SpeechTextSource
	Products lookup.ProductLookup
}

// Service runs capture, confirmation and ledger operations for shopping sessions
type Service struct {
	db          DB
	storage     Storage
	sources     Sources
	publisher   events.Publisher
	idGenerator IDGenerator
	timeSource  TimeSource
	sessions    *sessionRegistry
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(db DB, storage Storage, sources Sources, publisher events.Publisher) *Service {
	return NewServiceWithDeps(db, storage, sources, publisher, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, sources Sources, publisher events.Publisher, idGen IDGenerator, timeSrc TimeSource) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		db:          db,
		storage:     storage,
		sources:     sources,
		publisher:   publisher,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    newSessionRegistry(),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "capture"
	}

	return base + unsafeFilenameChars.ReplaceAllString(ext, "")
}

// CreateSession starts a new, empty shopping session
func (s *Service) CreateSession() (string, error) {
	id := s.idGenerator.Generate()
	if err := s.db.CreateSession(id); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	slog.Info("Session created", "session_id", id)
	return id, nil
}

// ScanImage stores a captured image, recognises its text and extracts a
// candidate. The image is deleted again when no candidate comes out of it.
// On extraction failure the result still carries the recognised text.
func (s *Service) ScanImage(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	if s.sources.Images == nil {
		return nil, fmt.Errorf("%w: no image text source configured", scanning.ErrSourceUnavailable)
	}

	ref, err := s.storage.Save(fmt.Sprintf("%s_%s", s.idGenerator.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	discard := func() {
		if err := s.storage.Delete(ref); err != nil {
			slog.Warn("Failed to delete image", "image_ref", ref, "error", err)
		}
	}

	text, err := s.sources.Images.RecognizeImage(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to recognise image",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		discard()
		return nil, fmt.Errorf("recognising image: %w", err)
	}

	candidate, err := extract.ExtractNormalized(text)
	if err != nil {
		slog.Info("No price in image text", "filename", filename, "error", err)
		discard()
		return &ScanResult{Text: text}, fmt.Errorf("extracting price: %w", err)
	}
	candidate.ImageRef = ref

	return &ScanResult{Candidate: candidate, Text: text, ImageRef: ref}, nil
}

// ScanSpeech transcribes a short spoken capture and extracts a candidate
func (s *Service) ScanSpeech(ctx context.Context, audio []byte, contentType string) (*ScanResult, error) {
	if s.sources.Speech == nil {
		return nil, fmt.Errorf("%w: no speech text source configured", scanning.ErrSourceUnavailable)
	}

	text, err := s.sources.Speech.Transcribe(ctx, audio, contentType)
	if err != nil {
		slog.Error("Failed to transcribe audio", "content_type", contentType, "size", len(audio), "error", err)
		return nil, fmt.Errorf("transcribing audio: %w", err)
	}

	return s.ScanText(text)
}

// ScanText extracts a candidate from text typed or recognised elsewhere
func (s *Service) ScanText(text string) (*ScanResult, error) {
	candidate, err := extract.ExtractNormalized(text)
	if err != nil {
		return &ScanResult{Text: text}, fmt.Errorf("extracting price: %w", err)
	}
	return &ScanResult{Candidate: candidate, Text: text}, nil
}

// ScanBarcode resolves a decoded barcode to a candidate. Product databases
// carry no shelf price, so the amount is zero until the user edits it.
func (s *Service) ScanBarcode(ctx context.Context, code string) (*ScanResult, error) {
	if s.sources.Products == nil {
		return nil, fmt.Errorf("%w: no product lookup configured", lookup.ErrUnavailable)
	}

	code = strings.TrimSpace(code)
	product, err := s.sources.Products.Lookup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", code, err)
	}

	name := product.DisplayName()
	if name == "" {
		return nil, fmt.Errorf("looking up %s: %w", code, ErrNoProductName)
	}

	return &ScanResult{
		Candidate: &ledger.Candidate{Name: name, Amount: money.Zero},
		Text:      code,
	}, nil
}

// DiscardImage deletes the image of a rejected candidate. Missing images are
// ignored; images held by an entry or card are refused.
func (s *Service) DiscardImage(ref string) error {
	held, err := s.db.ImageInUse(ref)
	if err != nil {
		return fmt.Errorf("checking image: %w", err)
	}
	if held {
		return fmt.Errorf("discarding %s: %w", ref, ErrImageInUse)
	}
	if err := s.storage.Delete(ref); err != nil && !errors.Is(err, ErrImageNotFound) {
		return fmt.Errorf("discarding image: %w", err)
	}
	return nil
}

// GetImage returns a stored image and its content type
func (s *Service) GetImage(ref string) ([]byte, string, error) {
	data, err := s.storage.Get(ref)
	if err != nil {
		return nil, "", fmt.Errorf("getting image: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(ref))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Confirm adds a confirmed candidate to the session's ledger. A candidate
// whose name matches an existing entry increases that entry's quantity.
// An image already held by an entry or card is not attached again.
func (s *Service) Confirm(ctx context.Context, sessionID string, candidate ledger.Candidate, quantity int) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.withLedger(sessionID, func(l *ledger.Ledger) error {
		if candidate.ImageRef != "" {
			held, err := s.db.ImageInUse(candidate.ImageRef)
			if err != nil {
				return fmt.Errorf("checking image: %w", err)
			}
			if held {
				slog.Info("Image already held, not attaching it", "session_id", sessionID, "image_ref", candidate.ImageRef)
				candidate.ImageRef = ""
			}
		}

		var err error
		entry, err = l.Add(candidate, quantity)
		if err != nil {
			return err
		}
		if err := s.db.SaveEntry(sessionID, entry); err != nil {
			return fmt.Errorf("saving entry: %w", err)
		}
		s.publish(ctx, events.EntryAdded, sessionID, entry, l)
		return nil
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("confirming candidate: %w", err)
	}

	// merged into an existing entry, which keeps its own image
	if candidate.ImageRef != "" && candidate.ImageRef != entry.ImageRef {
		s.releaseImage(candidate.ImageRef)
	}
	return entry, nil
}

// UpdateEntry replaces the given fields of an entry
func (s *Service) UpdateEntry(ctx context.Context, sessionID, id string, update ledger.Update) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.withLedger(sessionID, func(l *ledger.Ledger) error {
		var err error
		entry, err = l.Update(id, update)
		if err != nil {
			return err
		}
		if err := s.db.SaveEntry(sessionID, entry); err != nil {
			return fmt.Errorf("saving entry: %w", err)
		}
		s.publish(ctx, events.EntryUpdated, sessionID, entry, l)
		return nil
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("updating entry %s: %w", id, err)
	}
	return entry, nil
}

// TogglePurchased flips an entry's purchased flag
func (s *Service) TogglePurchased(ctx context.Context, sessionID, id string) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.withLedger(sessionID, func(l *ledger.Ledger) error {
		var ok bool
		entry, ok = l.TogglePurchased(id)
		if !ok {
			return ledger.ErrNotFound
		}
		if err := s.db.SaveEntry(sessionID, entry); err != nil {
			return fmt.Errorf("saving entry: %w", err)
		}
		s.publish(ctx, events.EntryToggled, sessionID, entry, l)
		return nil
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("toggling entry %s: %w", id, err)
	}
	return entry, nil
}

// RemoveEntry deletes an entry and its image. Unknown ids are a no-op.
func (s *Service) RemoveEntry(ctx context.Context, sessionID, id string) error {
	err := s.withLedger(sessionID, func(l *ledger.Ledger) error {
		entry, ok := l.Remove(id)
		if !ok {
			return nil
		}
		if err := s.db.DeleteEntry(sessionID, id); err != nil {
			return fmt.Errorf("deleting entry: %w", err)
		}
		s.releaseImage(entry.ImageRef)
		s.publish(ctx, events.EntryRemoved, sessionID, entry, l)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing entry %s: %w", id, err)
	}
	return nil
}

// Summary returns the session's entries in insertion order with both totals
func (s *Service) Summary(sessionID string) (*Summary, error) {
	var summary *Summary
	err := s.withLedger(sessionID, func(l *ledger.Ledger) error {
		summary = &Summary{
			Entries:          l.Entries(),
			Total:            l.Total(),
			UnpurchasedTotal: l.UnpurchasedTotal(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("summarising session: %w", err)
	}
	return summary, nil
}

// withLedger runs fn with the session locked and its ledger loaded.
// When fn fails after the ledger may have changed, the in-memory copy is
// dropped and the next request reloads it from the database.
func (s *Service) withLedger(sessionID string, fn func(*ledger.Ledger) error) error {
	if sessionID == "" {
		return ErrInvalidSession
	}

	sess := s.sessions.lock(sessionID)
	defer sess.mu.Unlock()

	if sess.ledger == nil {
		entries, err := s.db.ListEntries(sessionID)
		if errors.Is(err, ErrSessionNotFound) {
			s.sessions.drop(sessionID, sess)
		}
		if err != nil {
			return fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		sess.ledger = ledger.Restore(entries, ledger.WithIDGenerator(s.idGenerator.Generate))
	}

	if err := fn(sess.ledger); err != nil {
		if !isValidationError(err) {
			sess.ledger = nil
		}
		return err
	}
	return nil
}

// isValidationError reports errors the ledger raises before changing anything
func isValidationError(err error) bool {
	return errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInvalidQuantity) ||
		errors.Is(err, ledger.ErrNameTaken)
}

// releaseImage deletes ref once no entry or card holds it
func (s *Service) releaseImage(ref string) {
	if ref == "" {
		return
	}
	held, err := s.db.ImageInUse(ref)
	if err != nil {
		slog.Warn("Failed to check image use, keeping it", "image_ref", ref, "error", err)
		return
	}
	if held {
		return
	}
	if err := s.storage.Delete(ref); err != nil {
		slog.Warn("Failed to delete image", "image_ref", ref, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, typ events.Type, sessionID string, entry ledger.Entry, l *ledger.Ledger) {
	event := events.LedgerChanged{
		Type:             typ,
		SessionID:        sessionID,
		Entry:            entry,
		Total:            l.Total(),
		UnpurchasedTotal: l.UnpurchasedTotal(),
		OccurredAt:       s.timeSource.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("Failed to publish ledger event", "type", typ, "session_id", sessionID, "error", err)
	}
}

// AddCard stores a loyalty card with its number hashed
func (s *Service) AddCard(card NewCard) (*LoyaltyCard, error) {
	card.Name = strings.TrimSpace(card.Name)
	if card.Name == "" || normalizeCardNumber(card.Number) == "" {
		return nil, ErrInvalidCard
	}

	if card.ImageRef != "" {
		held, err := s.db.ImageInUse(card.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("checking image: %w", err)
		}
		if held {
			return nil, fmt.Errorf("adding card: %w", ErrImageInUse)
		}
	}

	hash, err := hashCardNumber(card.Number)
	if err != nil {
		return nil, fmt.Errorf("hashing card number: %w", err)
	}

	stored := &LoyaltyCard{
		ID:         s.idGenerator.Generate(),
		Name:       card.Name,
		NumberHash: hash,
		Barcode:    strings.TrimSpace(card.Barcode),
		ImageRef:   card.ImageRef,
		CreatedAt:  s.timeSource.Now(),
	}
	if err := s.db.SaveCard(stored); err != nil {
		return nil, fmt.Errorf("saving card: %w", err)
	}
	return stored, nil
}

// ListCards returns all loyalty cards
func (s *Service) ListCards() ([]*LoyaltyCard, error) {
	cards, err := s.db.ListCards()
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

// DeleteCard removes a loyalty card and its image
func (s *Service) DeleteCard(id string) error {
	card, err := s.db.GetCard(id)
	if err != nil {
		return fmt.Errorf("getting card for deletion: %w", err)
	}

	if err := s.db.DeleteCard(id); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	s.releaseImage(card.ImageRef)
	return nil
}

// VerifyCard reports whether number is the number the card was stored with
func (s *Service) VerifyCard(id, number string) (bool, error) {
	card, err := s.db.GetCard(id)
	if err != nil {
		return false, fmt.Errorf("getting card: %w", err)
	}

	ok, err := verifyCardNumber(number, card.NumberHash)
	if err != nil {
		return false, fmt.Errorf("verifying card %s: %w", id, err)
	}
	return ok, nil
}
