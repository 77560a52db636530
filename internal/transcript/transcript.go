// Package transcript extracts plain text from uploaded transcript and
// reference files.
package transcript

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType is returned for files other than .txt and .pdf.
var ErrUnsupportedType = errors.New("unsupported file type (only PDF and TXT allowed)")

// Supported reports whether filename has an accepted extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".pdf":
		return true
	default:
		return false
	}
}

// Extract returns the text of an uploaded file. PDFs that cannot be parsed
// fall back to their raw bytes.
func Extract(filename string, content []byte) (string, error) {
	if !Supported(filename) {
		return "", fmt.Errorf("%s: %w", filename, ErrUnsupportedType)
	}
	if strings.ToLower(filepath.Ext(filename)) != ".pdf" {
		return string(content), nil
	}
	text, err := extractPDF(content)
	if err != nil {
		return string(content), fmt.Errorf("pdf extraction failed: %w", err)
	}
	return text, nil
}

// ReadFile reads and extracts a file from disk.
func ReadFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Extract(path, content)
}

func extractPDF(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= pdfReader.NumPage(); pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}
