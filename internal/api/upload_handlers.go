package api

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"anonchat/internal/models"

	"github.com/google/uuid"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w.\-\s()]`)

// UploadHandler stores multipart uploads on disk and returns the opaque
// attachment descriptors the message pipeline embeds. At most
// MaxFilesPerMsg files per request, each capped at maxFileMB.
func UploadHandler(uploadDir string, maxFileMB int64) http.HandlerFunc {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Printf("[UPLOAD] Failed to create upload dir %s: %v", uploadDir, err)
	}
	maxBytes := maxFileMB << 20

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, int64(models.MaxFilesPerMsg)*maxBytes+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "Invalid multipart request", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		parts := r.MultipartForm.File["files"]
		if len(parts) > models.MaxFilesPerMsg {
			parts = parts[:models.MaxFilesPerMsg]
		}

		items := make([]models.Attachment, 0, len(parts))
		for _, part := range parts {
			if part.Size > maxBytes {
				http.Error(w, fmt.Sprintf("File too large (max %d MB)", maxFileMB), http.StatusRequestEntityTooLarge)
				return
			}

			safe := unsafeFilenameChars.ReplaceAllString(part.Filename, "_")
			if safe == "" {
				safe = "file"
			}
			ext := strings.ToLower(filepath.Ext(safe))
			stored := uuid.NewString() + ext

			src, err := part.Open()
			if err != nil {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			dst, err := os.Create(filepath.Join(uploadDir, stored))
			if err != nil {
				src.Close()
				log.Printf("[UPLOAD] Failed to create %s: %v", stored, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			_, err = io.Copy(dst, src)
			src.Close()
			dst.Close()
			if err != nil {
				log.Printf("[UPLOAD] Failed to write %s: %v", stored, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			items = append(items, models.Attachment{
				URL:          "/uploads/" + stored,
				OriginalName: part.Filename,
				Size:         part.Size,
				Mimetype:     part.Header.Get("Content-Type"),
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{"files": items})
	}
}

var startTime = time.Now()

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"uptime": time.Since(startTime).Seconds(),
		})
	}
}
