package utils

import (
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ReadUploadedFile reads a multipart upload fully into memory.
func ReadUploadedFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return io.ReadAll(src)
}

// DetectMimeType sniffs the MIME type of data, without parameters.
func DetectMimeType(data []byte) string {
	mime := mimetype.Detect(data).String()
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return mime
}

// BaseName returns the file name without directory and extension.
// "holiday.final.mp4" -> "holiday.final".
func BaseName(filename string) string {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "file"
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		return "file"
	}
	return base
}

// Extension returns the lowercase extension including the dot.
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
