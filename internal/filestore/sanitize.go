package filestore

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrBadFileName is returned when a file name cannot be made safe, either
// because nothing survives sanitization or the extension is not allowed.
var ErrBadFileName = errors.New("filestore: invalid file name")

const maxFileNameLen = 255

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".pdf":  true,
	".docx": true,
	".doc":  true,
}

var fileNameCharset = regexp.MustCompile(`[^\w.\-]`)

// SanitizeFileName reduces an uploaded file name to a safe form: the base
// name only, spaces replaced with underscores, any character outside the
// word/dot/dash set stripped, and the total length capped at 255. The
// extension must be on the allow list.
func SanitizeFileName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == "/" {
		return "", ErrBadFileName
	}

	name = strings.ReplaceAll(name, " ", "_")
	name = fileNameCharset.ReplaceAllString(name, "")

	ext := filepath.Ext(name)
	if !allowedExtensions[strings.ToLower(ext)] {
		return "", ErrBadFileName
	}
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		return "", ErrBadFileName
	}

	// Cap total length at 255, trimming the base and keeping the extension.
	if len(base)+len(ext) > maxFileNameLen {
		base = base[:maxFileNameLen-len(ext)]
	}
	return base + ext, nil
}
