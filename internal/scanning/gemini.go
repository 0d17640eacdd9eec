package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiConfig configures the Gemini image and speech sources
type GeminiConfig struct {
	APIKey            string
	Model             string
	ImageTimeout      time.Duration
	SpeechTimeout     time.Duration
	MaxSpeechDuration time.Duration
	Preprocess        Preprocess
}

// Gemini implements ImageTextSource and SpeechTextSource using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	cfg    GeminiConfig
}

// NewGemini creates a new Gemini source
func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 30 * time.Second
	}
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = 5 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(cfg.Model),
		cfg:    cfg,
	}, nil
}

// RecognizeImage transcribes the text on a price label
func (g *Gemini) RecognizeImage(ctx context.Context, imageData []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ImageTimeout)
	defer cancel()

	pngData, err := prepareImageData(imageData, contentType, g.cfg.Preprocess)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadableImage, err)
	}

	// genai.ImageData wants the format suffix, not the MIME type
	reply, err := g.generate(ctx, genai.ImageData("png", pngData), genai.Text(imageTextPrompt))
	if err != nil {
		return "", err
	}

	rec, err := parseRecognitionJSON(reply)
	if err != nil {
		return "", fmt.Errorf("parsing recognition: %w", err)
	}
	return rec.imageText()
}

// Transcribe turns a short spoken price into text
func (g *Gemini) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if err := checkAudio(audio, contentType, g.cfg.MaxSpeechDuration); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.SpeechTimeout)
	defer cancel()

	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "audio/wav"
	}

	reply, err := g.generate(ctx, genai.Blob{MIMEType: mimeType, Data: audio}, genai.Text(speechTextPrompt))
	if err != nil {
		return "", err
	}

	rec, err := parseRecognitionJSON(reply)
	if err != nil {
		return "", fmt.Errorf("%w: parsing transcript: %w", ErrAmbiguousAudio, err)
	}
	return rec.speechText()
}

// generate sends the parts and concatenates the text of the first candidate
func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrSourceUnavailable, ctxErr)
		}
		return "", fmt.Errorf("%w: generating content: %w", ErrSourceUnavailable, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no response from gemini", ErrEmptyResult)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
