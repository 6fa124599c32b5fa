package web

import (
	"io"
	"net/http"

	"github.com/vbonduro/timelock/internal/service"
)

const maxImageSize = 10 * 1024 * 1024 // 10 MB

// allowedImageTypes is the set of sniffed MIME types accepted for image items.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniff spec (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise. The client-declared type
// is never trusted.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// handleCreateImage reads a multipart form with fields title, unlockAt (ms
// epoch) or unlockInMinutes, and the file field "image".
func (s *Server) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1<<20)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse form", s.logger)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required", s.logger)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		s.logger.Error("read upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read file", s.logger)
		return
	}
	if len(imageData) > maxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large", s.logger)
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported image format", s.logger)
		return
	}

	unlockAtMs, err := parseInt64Field(r, "unlockAt")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	unlockIn, err := parseInt64Field(r, "unlockInMinutes")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	at, in := unlockFields(unlockAtMs, unlockIn)
	view, err := s.vault.CreateImage(r.Context(), ownerFrom(r.Context()), deviceFrom(r.Context()), service.CreateImageInput{
		Title:    r.FormValue("title"),
		MimeType: mimeType,
		Data:     imageData,
		UnlockAt: at,
		UnlockIn: in,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeItem(w, http.StatusCreated, view, s.logger)
}
