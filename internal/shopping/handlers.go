package shopping

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/flashka/internal/extract"
	"github.com/zombor/flashka/internal/ledger"
	"github.com/zombor/flashka/internal/lookup"
	"github.com/zombor/flashka/internal/money"
	"github.com/zombor/flashka/internal/scanning"
)

const (
	maxImageSize = int64(50 << 20)
	maxAudioSize = int64(4 << 20)
	maxJSONSize  = int64(1 << 20)
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message}
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// errorStatuses maps service sentinels to HTTP statuses, first match wins
var errorStatuses = []struct {
	err    error
	status int
}{
	{scanning.ErrUnreadableImage, http.StatusUnprocessableEntity},
	{scanning.ErrEmptyResult, http.StatusUnprocessableEntity},
	{scanning.ErrNoSpeech, http.StatusUnprocessableEntity},
	{scanning.ErrAmbiguousAudio, http.StatusUnprocessableEntity},
	{ErrNoProductName, http.StatusUnprocessableEntity},
	{scanning.ErrAudioTooLong, http.StatusRequestEntityTooLarge},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidQuantity, http.StatusBadRequest},
	{money.ErrNegative, http.StatusBadRequest},
	{lookup.ErrInvalidCode, http.StatusBadRequest},
	{ErrInvalidCard, http.StatusBadRequest},
	{ErrInvalidSession, http.StatusBadRequest},
	{ErrInvalidImageRef, http.StatusBadRequest},
	{ledger.ErrNotFound, http.StatusNotFound},
	{lookup.ErrNotFound, http.StatusNotFound},
	{ErrCardNotFound, http.StatusNotFound},
	{ErrImageNotFound, http.StatusNotFound},
	{ErrSessionNotFound, http.StatusNotFound},
	{ledger.ErrNameTaken, http.StatusConflict},
	{ErrImageInUse, http.StatusConflict},
	{scanning.ErrSourceUnavailable, http.StatusBadGateway},
	{lookup.ErrUnavailable, http.StatusBadGateway},
}

// errorStatus maps a service error to an HTTP status and a message safe to show the user
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, extract.ErrNoMatch):
		return http.StatusUnprocessableEntity, "no price found, enter manually"
	case errors.Is(err, extract.ErrParseFailure):
		return http.StatusUnprocessableEntity, "price format not recognised"
	}

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, userMessage(err, m.err)
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

// userMessage drops the wrapping context in front of sentinel but keeps the
// collaborator detail wrapped after it
func userMessage(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()); i >= 0 {
		return msg[i:]
	}
	return sentinel.Error()
}

// serviceError logs err and writes the mapped response
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	jsonError(w, message, status)
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONSize)).Decode(v); err != nil {
		status, message := http.StatusBadRequest, "Invalid request body"
		if errors.Is(err, money.ErrNegative) {
			message = money.ErrNegative.Error()
		}
		jsonError(w, message, status)
		return false
	}
	return true
}

// readUpload reads the "file" part of a multipart form
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) (data []byte, filename, contentType string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))
	if err := r.ParseMultipartForm(maxSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "File is too large", http.StatusRequestEntityTooLarge)
		} else {
			jsonError(w, "Error parsing form", http.StatusBadRequest)
		}
		return nil, "", "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file provided", http.StatusBadRequest)
		return nil, "", "", false
	}
	defer f.Close()

	if header.Size > maxSize {
		jsonError(w, "File is too large", http.StatusRequestEntityTooLarge)
		return nil, "", "", false
	}

	data, err = io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return nil, "", "", false
	}

	return data, header.Filename, uploadContentType(header.Header.Get("Content-Type"), header.Filename), true
}

// uploadContentType trusts the part's header and falls back to the file extension
func uploadContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.CreateSession()
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleScanImage accepts a photo of a price label and returns a candidate
func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	data, filename, contentType, ok := readUpload(w, r, maxImageSize)
	if !ok {
		return
	}

	result, err := s.service.ScanImage(r.Context(), filename, data, contentType)
	s.writeScan(w, r, result, err)
}

// handleScanSpeech accepts a short audio capture of a spoken price
func (s *Server) handleScanSpeech(w http.ResponseWriter, r *http.Request) {
	data, _, contentType, ok := readUpload(w, r, maxAudioSize)
	if !ok {
		return
	}

	result, err := s.service.ScanSpeech(r.Context(), data, contentType)
	s.writeScan(w, r, result, err)
}

func (s *Server) handleScanText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.service.ScanText(req.Text)
	s.writeScan(w, r, result, err)
}

func (s *Server) handleScanBarcode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.service.ScanBarcode(r.Context(), req.Code)
	s.writeScan(w, r, result, err)
}

// writeScan answers a scan. Extraction failures still return the recognised
// text so the user can enter the price manually.
func (s *Server) writeScan(w http.ResponseWriter, r *http.Request, result *ScanResult, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	status, message := errorStatus(err)
	if result == nil || result.Text == "" {
		serviceError(w, r, err)
		return
	}
	slog.Info("No candidate extracted", "status", status, "error", err)
	writeJSON(w, status, map[string]string{
		"error": message,
		"text":  result.Text,
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetImage(r.PathValue("ref"))
	if err != nil {
		serviceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDiscardImage(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardImage(r.PathValue("ref")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSummary returns the session's entries and both totals
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.PathValue("session"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleConfirm adds a confirmed candidate to the ledger
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate ledger.Candidate `json:"candidate"`
		Quantity  *int             `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	entry, err := s.service.Confirm(r.Context(), r.PathValue("session"), req.Candidate, quantity)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var update ledger.Update
	if !decodeJSON(w, r, &update) {
		return
	}

	entry, err := s.service.UpdateEntry(r.Context(), r.PathValue("session"), r.PathValue("id"), update)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.TogglePurchased(r.Context(), r.PathValue("session"), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleRemoveEntry deletes an entry; unknown ids still answer 204
func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveEntry(r.Context(), r.PathValue("session"), r.PathValue("id")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.service.ListCards()
	if err != nil {
		serviceError(w, r, err)
		return
	}
	if cards == nil {
		cards = []*LoyaltyCard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req NewCard
	if !decodeJSON(w, r, &req) {
		return
	}

	card, err := s.service.AddCard(req)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCard(r.PathValue("id")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number string `json:"number"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	match, err := s.service.VerifyCard(r.PathValue("id"), req.Number)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"match": match})
}
