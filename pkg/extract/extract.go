// Package extract turns uploaded documents into normalized plain text.
package extract

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
)

const charsPerPage = 2000

// Result is the normalized text of a document plus its counts.
type Result struct {
	Text      string
	PageCount int
	WordCount int
	CharCount int
}

// Extractor reads the document at path and returns its text.
type Extractor interface {
	Extract(ctx context.Context, path, mimeType string) (Result, error)
}

// Format is a supported document family.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
	FormatText Format = "txt"
)

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/msword": FormatDOC,
	"text/plain":         FormatText,
}

// MimeTypes lists the MIME types accepted for upload.
func MimeTypes() []string {
	out := make([]string, 0, len(mimeFormats))
	for m := range mimeFormats {
		out = append(out, m)
	}
	return out
}

// Supported reports whether a document with this MIME type or file name can be extracted.
func Supported(mimeType, name string) bool {
	_, ok := ResolveFormat(mimeType, name)
	return ok
}

// ResolveFormat picks the format from the MIME type, then from the file extension.
func ResolveFormat(mimeType, name string) (Format, bool) {
	base := strings.TrimSpace(strings.ToLower(strings.SplitN(mimeType, ";", 2)[0]))
	if f, ok := mimeFormats[base]; ok {
		return f, true
	}
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".") {
	case "pdf":
		return FormatPDF, true
	case "docx":
		return FormatDOCX, true
	case "doc":
		return FormatDOC, true
	case "txt":
		return FormatText, true
	}
	return "", false
}

// DocumentExtractor dispatches on format.
type DocumentExtractor struct {
	log *zap.Logger
}

func NewDocumentExtractor(log *zap.Logger) *DocumentExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentExtractor{log: log.Named("extract")}
}

func (d *DocumentExtractor) Extract(ctx context.Context, path, mimeType string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	format, ok := ResolveFormat(mimeType, path)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", errors.ErrUnsupportedFormat, firstNonEmpty(mimeType, filepath.Ext(path)))
	}

	start := time.Now()
	var (
		raw   string
		pages int
		err   error
	)
	switch format {
	case FormatPDF:
		raw, pages, err = readPDF(path)
	case FormatDOCX, FormatDOC:
		// legacy .doc is only readable when it is really an OOXML container
		raw, err = readDOCX(path)
	case FormatText:
		raw, err = readText(path)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", errors.ErrExtraction, format, err)
	}

	res := Analyze(raw)
	if pages > 0 {
		res.PageCount = pages
	}

	d.log.Debug("document extracted",
		zap.String("format", string(format)),
		zap.Int("pages", res.PageCount),
		zap.Int("words", res.WordCount),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

var (
	spaceBeforeNewline = regexp.MustCompile(`\s+\n`)
	spaceAfterNewline  = regexp.MustCompile(`\n\s+`)
)

// Normalize unifies line endings and strips whitespace around line breaks.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = spaceBeforeNewline.ReplaceAllString(text, "\n")
	text = spaceAfterNewline.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// Analyze normalizes raw text and computes its counts. The page count is an
// estimate of charsPerPage characters per page.
func Analyze(raw string) Result {
	text := Normalize(raw)
	chars := utf8.RuneCountInString(text)
	return Result{
		Text:      text,
		PageCount: int(math.Ceil(float64(chars) / charsPerPage)),
		WordCount: len(strings.Fields(text)),
		CharCount: chars,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "unknown"
}
