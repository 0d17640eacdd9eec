package extract

import (
	"errors"
	"fmt"
)

// Kind classifies why extraction produced no candidate
type Kind int

const (
	// NoMatch means no numeric pattern was found; prompt for manual entry
	NoMatch Kind = iota + 1
	// ParseFailure means a pattern was found but did not convert to a valid amount
	ParseFailure
)

func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case ParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

var (
	ErrNoMatch      = errors.New("no price found in text")
	ErrParseFailure = errors.New("price format not recognised")
)

// Error is returned by Extract. Use errors.Is with ErrNoMatch or
// ErrParseFailure, or inspect Kind directly.
type Error struct {
	Kind  Kind
	Token string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Token == "":
		return e.sentinel().Error()
	case e.Err != nil:
		return fmt.Sprintf("%s: %q: %v", e.sentinel(), e.Token, e.Err)
	default:
		return fmt.Sprintf("%s: %q", e.sentinel(), e.Token)
	}
}

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) sentinel() error {
	if e.Kind == ParseFailure {
		return ErrParseFailure
	}
	return ErrNoMatch
}
