package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/poiesic/prepdocs/core"
)

// PDF extracts one markdown unit per page.
type PDF struct {
	logger *slog.Logger
}

var _ Extractor = (*PDF)(nil)

// NewPDF creates a PDF extractor.
func NewPDF(logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default().With("component", "extract")
	}
	return &PDF{logger: logger}
}

// Extract renders every page to markdown. Pages without text still produce a
// unit so that page numbers stay aligned with the document.
func (x *PDF) Extract(ctx context.Context, content []byte, name string) (units []core.Unit, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = extractionError(name, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, extractionError(name, err)
	}

	total := reader.NumPage()
	units = make([]core.Unit, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		markdown := x.pageMarkdown(page, name, i)
		units = append(units, core.Unit{
			Ordinal: i,
			Content: markdown,
			Metadata: core.Metadata{
				FileName:   name,
				FileType:   core.FormatPDF.FileType(),
				PageNumber: i,
				TotalPages: total,
				Heading:    firstHeading(markdown),
			},
		})
	}
	return units, nil
}

func (x *PDF) pageMarkdown(page pdf.Page, name string, number int) string {
	if page.V.IsNull() {
		return ""
	}
	glyphs, err := pageGlyphs(page)
	if err == nil {
		if markdown := renderMarkdown(glyphs); markdown != "" {
			return markdown
		}
	} else {
		x.logger.Debug("falling back to plain text", "file", name, "page", number, "err", err)
	}

	plain, err := page.GetPlainText(nil)
	if err != nil {
		x.logger.Warn("page text unreadable", "file", name, "page", number, "err", err)
		return ""
	}
	return strings.TrimSpace(plain)
}

func pageGlyphs(page pdf.Page) (glyphs []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			glyphs = nil
			err = fmt.Errorf("content stream: %v", r)
		}
	}()

	content := page.Content()
	glyphs = make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return glyphs, nil
}
