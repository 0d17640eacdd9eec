package scanning

import (
	"context"
	"errors"
)

var (
	// ErrUnreadableImage means the image could not be decoded or the model could not read it
	ErrUnreadableImage = errors.New("image could not be read")
	// ErrEmptyResult means recognition succeeded but produced no text
	ErrEmptyResult = errors.New("no text recognised")
	// ErrNoSpeech means the audio contained no speech
	ErrNoSpeech = errors.New("no speech detected")
	// ErrAmbiguousAudio means speech was heard but could not be transcribed reliably
	ErrAmbiguousAudio = errors.New("speech could not be understood")
	// ErrAudioTooLong means the capture exceeds the configured duration or size
	ErrAudioTooLong = errors.New("audio capture too long")
	// ErrSourceUnavailable means the recognition service failed or timed out
	ErrSourceUnavailable = errors.New("recognition service unavailable")
)

// ImageTextSource produces recognised text from a captured image
type ImageTextSource interface {
	// RecognizeImage returns all text visible in the image
	RecognizeImage(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases resources
	Close() error
}

// SpeechTextSource produces a transcript from a short audio capture
type SpeechTextSource interface {
	// Transcribe returns what was said in the audio
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
	// Close releases resources
	Close() error
}
