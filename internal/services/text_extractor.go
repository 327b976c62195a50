package services

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoText              = errors.New("no text content found")
)

// TextExtractor turns an uploaded file into the raw text the pipeline consumes.
type TextExtractor interface {
	Extract(fileName string, data []byte) (*ExtractedText, error)
}

type ExtractedText struct {
	Text      string
	FileType  string
	PageCount int
}

type textExtractor struct{}

func NewTextExtractor() TextExtractor {
	return &textExtractor{}
}

func (t *textExtractor) Extract(fileName string, data []byte) (*ExtractedText, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return extractPDF(data)
	case ".txt", ".md":
		return extractPlain(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(fileName))
	}
}

func extractPDF(data []byte) (*ExtractedText, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var textBuilder strings.Builder
	totalPage := r.NumPage()

	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Unreadable pages are skipped; the rest of the document still counts.
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	text := CleanText(textBuilder.String())
	if text == "" {
		return nil, fmt.Errorf("%w in PDF", ErrNoText)
	}

	return &ExtractedText{Text: text, FileType: "application/pdf", PageCount: totalPage}, nil
}

func extractPlain(data []byte) (*ExtractedText, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text file is not valid UTF-8", ErrUnsupportedFileType)
	}

	text := CleanText(string(data))
	if text == "" {
		return nil, ErrNoText
	}

	return &ExtractedText{Text: text, FileType: "text/plain", PageCount: 1}, nil
}

// CleanText trims every line and drops blank runs down to one paragraph break.
func CleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var cleaned []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(cleaned) > 0
			continue
		}
		if blank {
			cleaned = append(cleaned, "")
			blank = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.Join(cleaned, "\n")
}
