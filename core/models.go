package core

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Format identifies which extractor handles a source.
type Format int

const (
	// FormatUnknown is the zero value; no extractor handles it.
	FormatUnknown Format = iota
	// FormatPDF is a PDF document, one unit per page.
	FormatPDF
	// FormatPresentation is a slide deck, one unit per slide.
	FormatPresentation
	// FormatCSV is a comma separated table, one unit per row.
	FormatCSV
	// FormatExcel is a spreadsheet workbook, one unit per row.
	FormatExcel
)

// FileType returns the file_type metadata tag for the format.
func (f Format) FileType() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatPresentation:
		return "pptx"
	case FormatCSV:
		return "csv"
	case FormatExcel:
		return "excel"
	default:
		return "unknown"
	}
}

func (f Format) String() string {
	return f.FileType()
}

// Source identifies one input of a pipeline run: a local file or a URL.
// Sources are immutable once enumerated.
type Source struct {
	ID     string // Ledger key: absolute path or URL
	Name   string // Base name used in unit metadata
	Path   string // Local path, empty for remote sources
	URL    string // Remote URL, empty for local sources
	Remote bool
}

// NewFileSource builds a Source for a local file.
func NewFileSource(path string) Source {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Source{
		ID:   abs,
		Name: filepath.Base(abs),
		Path: abs,
	}
}

// NewURLSource builds a Source for a remote document.
func NewURLSource(rawURL string) Source {
	name := rawURL
	if i := strings.LastIndex(strings.TrimRight(rawURL, "/"), "/"); i >= 0 {
		name = strings.TrimRight(rawURL, "/")[i+1:]
	}
	if q := strings.IndexAny(name, "?#"); q >= 0 {
		name = name[:q]
	}
	if name == "" {
		name = rawURL
	}
	return Source{
		ID:     rawURL,
		Name:   name,
		URL:    rawURL,
		Remote: true,
	}
}

// Ext returns the lowercased extension of the source name.
func (s Source) Ext() string {
	return strings.ToLower(filepath.Ext(s.Name))
}

// Metadata is the provenance attached to every unit.
// Only the fields relevant to the unit's format are set.
type Metadata struct {
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	PageNumber  int    `json:"page_number,omitempty"`
	TotalPages  int    `json:"total_pages,omitempty"`
	Heading     string `json:"heading,omitempty"`
	SlideNumber int    `json:"slide_number,omitempty"`
	TotalSlides int    `json:"total_slides,omitempty"`
	RowOrdinal  int    `json:"row_ordinal,omitempty"`
	Sheet       string `json:"sheet,omitempty"`
}

// Position returns the page, slide or row number, whichever is set.
func (m Metadata) Position() int {
	switch {
	case m.PageNumber > 0:
		return m.PageNumber
	case m.SlideNumber > 0:
		return m.SlideNumber
	default:
		return m.RowOrdinal
	}
}

// Unit is a single extracted item: one page, slide or row.
type Unit struct {
	Ordinal  int // 1-based position within the source
	Content  string
	Metadata Metadata
}

type canonicalUnit struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Canonical returns the serialized form used for token accounting.
// Every format uses the same shape so budgets compare across formats.
func (u Unit) Canonical() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalUnit{Content: u.Content, Metadata: u.Metadata}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Chunk is a run of consecutive units from one source packed under a token budget.
type Chunk struct {
	Index  int // 0-based position within the source
	Units  []Unit
	Tokens int
}

// Text joins the unit contents into the text handed to embedders.
func (c Chunk) Text() string {
	parts := make([]string, len(c.Units))
	for i, u := range c.Units {
		parts[i] = u.Content
	}
	return strings.Join(parts, "\n\n")
}

// Metadata flattens chunk provenance into the string map vector stores accept.
func (c Chunk) Metadata(src Source, totalChunks int) map[string]string {
	md := map[string]string{
		"source":       src.ID,
		"file_name":    src.Name,
		"chunk_number": strconv.Itoa(c.Index + 1),
		"total_chunks": strconv.Itoa(totalChunks),
		"tokens":       strconv.Itoa(c.Tokens),
	}
	if len(c.Units) > 0 {
		first, last := c.Units[0], c.Units[len(c.Units)-1]
		md["file_type"] = first.Metadata.FileType
		md["first_ordinal"] = strconv.Itoa(first.Ordinal)
		md["last_ordinal"] = strconv.Itoa(last.Ordinal)
		if first.Metadata.Sheet != "" {
			md["sheet"] = first.Metadata.Sheet
		}
		if first.Metadata.Heading != "" {
			md["heading"] = first.Metadata.Heading
		}
	}
	return md
}

// LedgerEntry records the last successfully processed fingerprint of a source.
type LedgerEntry struct {
	SourceID    string
	Digest      Digest
	Units       int
	Chunks      int
	CommittedAt time.Time
}
