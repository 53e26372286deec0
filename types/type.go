package types

import (
	"path/filepath"
	"strings"
)

type MediaKind string

const (
	ImageKind MediaKind = "image"
	VideoKind MediaKind = "video"
	AudioKind MediaKind = "audio"
	DocKind   MediaKind = "document"
)

// Format describes one output container or encoding the toolkit can produce.
type Format struct {
	Name      string    `json:"name"`
	Kind      MediaKind `json:"kind"`
	Extension string    `json:"extension"`
	MimeType  string    `json:"mime_type"`
}

// Formats is the static MIME table used to label every produced artifact.
var Formats = map[string]Format{
	"jpeg": {Name: "jpeg", Kind: ImageKind, Extension: ".jpg", MimeType: "image/jpeg"},
	"png":  {Name: "png", Kind: ImageKind, Extension: ".png", MimeType: "image/png"},
	"webp": {Name: "webp", Kind: ImageKind, Extension: ".webp", MimeType: "image/webp"},
	"gif":  {Name: "gif", Kind: ImageKind, Extension: ".gif", MimeType: "image/gif"},
	"bmp":  {Name: "bmp", Kind: ImageKind, Extension: ".bmp", MimeType: "image/bmp"},
	"tiff": {Name: "tiff", Kind: ImageKind, Extension: ".tiff", MimeType: "image/tiff"},

	"mp4":  {Name: "mp4", Kind: VideoKind, Extension: ".mp4", MimeType: "video/mp4"},
	"webm": {Name: "webm", Kind: VideoKind, Extension: ".webm", MimeType: "video/webm"},
	"mov":  {Name: "mov", Kind: VideoKind, Extension: ".mov", MimeType: "video/quicktime"},
	"avi":  {Name: "avi", Kind: VideoKind, Extension: ".avi", MimeType: "video/x-msvideo"},

	"mp3": {Name: "mp3", Kind: AudioKind, Extension: ".mp3", MimeType: "audio/mpeg"},
	"wav": {Name: "wav", Kind: AudioKind, Extension: ".wav", MimeType: "audio/wav"},
	"aac": {Name: "aac", Kind: AudioKind, Extension: ".aac", MimeType: "audio/aac"},
	"ogg": {Name: "ogg", Kind: AudioKind, Extension: ".ogg", MimeType: "audio/ogg"},

	"pdf": {Name: "pdf", Kind: DocKind, Extension: ".pdf", MimeType: "application/pdf"},
}

var extensionAliases = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".tif":  "tiff",
	".tiff": "tiff",
	".m4v":  "mp4",
	".qt":   "mov",
	".oga":  "ogg",
}

// LookupFormat returns the format registered under name.
func LookupFormat(name string) (Format, bool) {
	name = strings.ToLower(strings.TrimPrefix(name, "."))
	if name == "jpg" {
		name = "jpeg"
	}
	f, ok := Formats[name]
	return f, ok
}

// FormatFromFilename resolves a format from a file's extension.
func FormatFromFilename(filename string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if alias, ok := extensionAliases[ext]; ok {
		return Formats[alias], true
	}
	return LookupFormat(ext)
}

// FormatFromMime resolves a format from a MIME type.
func FormatFromMime(mimeType string) (Format, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	switch mimeType {
	case "image/jpg":
		mimeType = "image/jpeg"
	case "audio/x-wav", "audio/wave":
		mimeType = "audio/wav"
	case "video/avi":
		mimeType = "video/x-msvideo"
	}
	for _, f := range Formats {
		if f.MimeType == mimeType {
			return f, true
		}
	}
	return Format{}, false
}
