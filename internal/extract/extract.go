// Package extract turns recognised text into a price candidate.
//
// The first price-like token in the text wins. Later numbers are ignored even
// when they look more like a price; callers that need something smarter must
// pre-filter the text.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/money"
)

// priceRE matches an optional single-letter currency marker, an optional
// minus sign and either a thousands-grouped number or up to four digits with
// an optional one or two digit fraction. The marker must be on the same line
// as the number.
//
// Groups: 1 marker, 2 minus, 3 grouped number, 4 plain number.
var priceRE = regexp.MustCompile(`(?:\b([A-Z])[ \t]?)?(-)?(?:(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?)|(\d{1,4}(?:[.,]\d{1,2})?))`)

// minNameLength is the shortest trimmed line accepted as a product name
const minNameLength = 3

// Extract finds the first price in text and a product name for it.
// It returns an *Error of kind NoMatch or ParseFailure when no candidate can
// be produced.
func Extract(text string) (*ledger.Candidate, error) {
	loc := priceRE.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, &Error{Kind: NoMatch}
	}

	token := text[loc[0]:loc[1]]
	hasMarker := loc[2] >= 0
	negative := loc[4] >= 0 && !hyphenated(text, loc[4])

	var (
		number  string
		grouped bool
	)
	if loc[6] >= 0 {
		number, grouped = text[loc[6]:loc[7]], true
	} else {
		number = text[loc[8]:loc[9]]
	}

	d, err := parseNumber(number, grouped, hasMarker)
	if err != nil {
		return nil, &Error{Kind: ParseFailure, Token: token, Err: err}
	}
	if negative {
		d = d.Neg()
	}

	amount, err := money.New(d)
	if err != nil {
		return nil, &Error{Kind: ParseFailure, Token: token, Err: err}
	}

	return &ledger.Candidate{
		Name:   guessName(text),
		Amount: amount,
	}, nil
}

// ExtractNormalized cleans OCR noise before extracting
func ExtractNormalized(text string) (*ledger.Candidate, error) {
	return Extract(Normalize(text))
}

// parseNumber converts the matched digits to a decimal.
// Thousands separators are stripped. A lone comma is a decimal separator,
// except after a currency marker where it is left as-is and fails to parse.
func parseNumber(number string, grouped, hasMarker bool) (decimal.Decimal, error) {
	switch {
	case grouped:
		number = strings.ReplaceAll(number, ",", "")
	case strings.Contains(number, ",") && !hasMarker:
		number = strings.Replace(number, ",", ".", 1)
	}
	return decimal.NewFromString(number)
}

// hyphenated reports whether the minus at idx joins two words ("Item-2")
// rather than signing the number.
func hyphenated(text string, idx int) bool {
	if idx == 0 {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(text[:idx])
	return unicode.IsLetter(prev) || unicode.IsDigit(prev)
}

// guessName returns the first line that still has at least three characters
// once standalone price tokens and surrounding punctuation are removed.
func guessName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.Join(strings.Fields(stripPrices(line)), " ")
		stripped = strings.TrimFunc(stripped, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if utf8.RuneCountInString(stripped) >= minNameLength {
			return stripped
		}
	}
	return ""
}

// stripPrices blanks out price tokens that stand apart from the surrounding
// words. Digits inside a word such as "500mg" or "2L" are kept.
func stripPrices(line string) string {
	var b strings.Builder
	last := 0
	for _, loc := range priceRE.FindAllStringSubmatchIndex(line, -1) {
		start := loc[0]
		if loc[2] < 0 && loc[4] >= 0 && hyphenated(line, loc[4]) {
			start = loc[5]
		}
		if !standalone(line, start, loc[1]) {
			continue
		}
		b.WriteString(line[last:start])
		b.WriteByte(' ')
		last = loc[1]
	}
	b.WriteString(line[last:])
	return b.String()
}

// standalone reports whether line[start:end] is not glued to a letter or digit
func standalone(line string, start, end int) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(line[:start])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			return false
		}
	}
	if end < len(line) {
		next, _ := utf8.DecodeRuneInString(line[end:])
		if unicode.IsLetter(next) || unicode.IsDigit(next) {
			return false
		}
	}
	return true
}
