package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     string
		wantErr  error
	}{
		{"plain text", "visit.txt", "Patient: headache", "Patient: headache", nil},
		{"upper-case extension", "VISIT.TXT", "abc", "abc", nil},
		{"unsupported", "visit.docx", "abc", "", ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.filename, []byte(tt.content))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractInvalidPDFFallsBackToRaw(t *testing.T) {
	got, err := Extract("broken.pdf", []byte("not a pdf"))
	if err == nil {
		t.Error("expected extraction error")
	}
	if got != "not a pdf" {
		t.Errorf("expected raw fallback, got %q", got)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.txt")
	if err := os.WriteFile(path, []byte("reference"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil || got != "reference" {
		t.Errorf("ReadFile = %q, %v", got, err)
	}
}
