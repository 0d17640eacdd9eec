package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status values the models are asked to report
const (
	statusOK         = "ok"
	statusUnreadable = "unreadable"
	statusNoSpeech   = "no_speech"
	statusAmbiguous  = "ambiguous"
)

// recognition is the JSON document both prompts ask the model to return
type recognition struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

// parseRecognitionJSON extracts the recognition document from a model reply
func parseRecognitionJSON(text string) (*recognition, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var rec recognition
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	rec.Status = strings.ToLower(strings.TrimSpace(rec.Status))
	if rec.Status == "" {
		rec.Status = statusOK
	}
	rec.Text = strings.TrimSpace(rec.Text)

	return &rec, nil
}

// imageText maps an image recognition to text or a source error
func (r *recognition) imageText() (string, error) {
	if r.Status == statusUnreadable {
		return "", ErrUnreadableImage
	}
	if r.Text == "" {
		return "", ErrEmptyResult
	}
	return r.Text, nil
}

// speechText maps a transcription to text or a source error
func (r *recognition) speechText() (string, error) {
	switch r.Status {
	case statusNoSpeech:
		return "", ErrNoSpeech
	case statusAmbiguous:
		return "", ErrAmbiguousAudio
	}
	if r.Text == "" {
		return "", ErrNoSpeech
	}
	return r.Text, nil
}
