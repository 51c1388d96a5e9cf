package handler

import (
	"errors"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/pkg/response"
)

var (
	errNoFilePart     = errors.New("No file part")
	errNoSelectedFile = errors.New("No selected file")
)

// formAudio returns the uploaded "file" part. A form that carries a "file"
// field without a filename is reported as errNoSelectedFile.
func formAudio(c *fiber.Ctx) (*multipart.FileHeader, error) {
	fh, err := c.FormFile("file")
	if err == nil {
		if strings.TrimSpace(fh.Filename) == "" {
			return nil, errNoSelectedFile
		}
		return fh, nil
	}

	if form, ferr := c.MultipartForm(); ferr == nil {
		if _, ok := form.Value["file"]; ok {
			return nil, errNoSelectedFile
		}
	}
	return nil, errNoFilePart
}

// uploadError writes the 400 for a failed formAudio call.
func uploadError(c *fiber.Ctx, err error) error {
	return response.ValidationError(c, err.Error(), nil)
}

// withUpload saves the request's audio under its original name in a private
// temporary directory, runs fn on it and always removes the directory
// afterwards.
func withUpload(c *fiber.Ctx, tempDir string, fn func(path string) (interface{}, error)) error {
	fh, err := formAudio(c)
	if err != nil {
		return uploadError(c, err)
	}
	if !audio.IsSupported(fh.Filename) {
		return response.UnsupportedAudio(c, "Unsupported file type: "+filepath.Ext(fh.Filename))
	}

	if tempDir == "" {
		tempDir = os.TempDir()
	}
	dir := filepath.Join(tempDir, "upload-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Errorf("create upload dir %s: %v", dir, err)
		return response.ServiceError(c, "Failed to save upload")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Errorf("remove upload %s: %v", dir, err)
		}
	}()

	path := filepath.Join(dir, audio.UploadName(fh.Filename))
	if err := c.SaveFile(fh, path); err != nil {
		log.Errorf("save upload %s: %v", fh.Filename, err)
		return response.ServiceError(c, "Failed to save upload")
	}

	log.Debugf("analyzing %s (%d bytes) as %s", fh.Filename, fh.Size, path)
	result, err := fn(path)
	if err != nil {
		return analysisError(c, fh.Filename, err)
	}
	return response.OK(c, result)
}
