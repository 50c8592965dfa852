package api

import (
	"path/filepath"
	"strings"
)

// mimeTypes is the fixed extension lookup used for artifact downloads.
// Unknown extensions fall back to a generic binary type.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".gif":  "image/gif",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".srt":  "text/plain; charset=utf-8",
	".vtt":  "text/vtt",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
	".zip":  "application/zip",
}

const genericMIME = "application/octet-stream"

// artifactDisposition resolves the content type and download filename
// for an artifact. GIFs are special-cased: messaging clients refuse
// animations without an exact image/gif type and .gif extension, so
// both are forced no matter what the pipeline named the file.
func artifactDisposition(path, suggested string) (contentType, filename string) {
	ext := strings.ToLower(filepath.Ext(path))
	filename = suggested
	if filename == "" {
		filename = filepath.Base(path)
	}

	if ext == ".gif" {
		if !strings.EqualFold(filepath.Ext(filename), ".gif") {
			filename += ".gif"
		}
		return "image/gif", filename
	}

	if ct, ok := mimeTypes[ext]; ok {
		return ct, filename
	}
	return genericMIME, filename
}
