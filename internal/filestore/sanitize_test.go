package filestore

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: file name sanitization
// ---------------------------------------------------------------------------

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces to underscores", "my summer photo.png", "my_summer_photo.png"},
		{"strips path", "/etc/passwd/../secret.jpg", "secret.jpg"},
		{"strips specials", "we!rd$na(me).doc", "werdname.doc"},
		{"keeps dots and dashes", "v1.2-final.docx", "v1.2-final.docx"},
		{"upper case extension", "SCAN.PDF", "SCAN.PDF"},
		{"surrounding whitespace", "  notes.doc  ", "notes.doc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFileName(tt.in)
			if err != nil {
				t.Fatalf("SanitizeFileName(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileNameRejected(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"dot", "."},
		{"dotdot", ".."},
		{"no extension", "README"},
		{"disallowed extension", "payload.exe"},
		{"script", "evil.js"},
		{"only extension", ".pdf"},
		{"specials only", "!!!.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SanitizeFileName(tt.in); !errors.Is(err, ErrBadFileName) {
				t.Errorf("SanitizeFileName(%q) error = %v, want ErrBadFileName", tt.in, err)
			}
		})
	}
}

func TestSanitizeFileNameLengthCap(t *testing.T) {
	long := strings.Repeat("a", 300) + ".png"
	got, err := SanitizeFileName(long)
	if err != nil {
		t.Fatalf("SanitizeFileName error: %v", err)
	}
	if len(got) > 255 {
		t.Errorf("sanitized name length = %d, want <= 255", len(got))
	}
}
