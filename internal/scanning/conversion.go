package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// imageTextPrompt asks a vision model for a plain transcription of a price label
const imageTextPrompt = `You are reading a photo of a shop price label or shelf tag. Transcribe every piece of text you can see, line by line, top to bottom, exactly as printed. Keep currency letters and symbols, decimal points and commas as they appear. Do not interpret, total or correct anything.

Return ONLY valid JSON in this exact format:
{
  "text": "line one\nline two",
  "status": "ok"
}

Use "status": "unreadable" with an empty "text" if the image is too blurry or dark to read.
Do not include any text before or after the JSON and do not use markdown code blocks.`

// speechTextPrompt asks an audio model for a transcript of a spoken price
const speechTextPrompt = `The audio is a short recording of a shopper saying a product name and its price. Transcribe exactly what is said. Write numbers as digits with a decimal point (for example "Milk 2.50").

Return ONLY valid JSON in this exact format:
{
  "text": "Milk 2.50",
  "status": "ok"
}

Use "status": "no_speech" if nobody speaks, or "status": "ambiguous" if speech is present but you cannot make it out. Leave "text" empty in both cases.
Do not include any text before or after the JSON and do not use markdown code blocks.`

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes PDF, HEIC/HEIF and the standard library formats
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if mimeType == "application/pdf" {
		return pdfToImage(imageData)
	}

	// iPhone captures arrive as HEIC, which image.Decode does not know
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData normalises a capture into PNG bytes for the vision model.
// PNG input without preprocessing is passed through untouched.
func prepareImageData(imageData []byte, contentType string, pre Preprocess) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if mimeType == "image/png" && !pre.Enabled && !isHEICFormat(imageData) {
		return imageData, nil
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, err
	}
	if pre.Enabled {
		img = pre.Apply(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
