package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxUploadSize = 10 << 20 // 10MB

// AttachmentHandler stores uploaded files on disk under random names. The
// returned id is what clients attach to messages.
type AttachmentHandler struct {
	uploadDir string
}

type UploadResponse struct {
	AttachmentID string `json:"attachment_id"`
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime_type"`
}

func NewAttachmentHandler(uploadDir string) (*AttachmentHandler, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &AttachmentHandler{uploadDir: uploadDir}, nil
}

func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "File too large (max 10MB)", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedType(contentType) {
		http.Error(w, "File type not allowed", http.StatusBadRequest)
		return
	}

	ext := filepath.Ext(header.Filename)
	id := uuid.NewString()
	name := id + ext

	path := filepath.Join(h.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(path)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		AttachmentID: name,
		URL:          "/api/attachments/" + name,
		Filename:     header.Filename,
		Size:         size,
		MimeType:     contentType,
	})
}

func (h *AttachmentHandler) Serve(w http.ResponseWriter, r *http.Request) {
	// Base() strips any traversal in the path value.
	name := filepath.Base(r.PathValue("id"))
	path := filepath.Join(h.uploadDir, name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	http.ServeFile(w, r, path)
}

func allowedType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "video/"),
		strings.HasPrefix(contentType, "audio/"):
		return true
	case contentType == "application/pdf", contentType == "text/plain":
		return true
	}
	return false
}
