// Package extract turns raw document bytes into ordered units.
//
// Each supported format has an Extractor. The Dispatcher maps a source to its
// format through a fixed extension table and hands back the matching
// extractor.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/prepdocs/core"
)

// Extractor produces the units of one document. Units are numbered from 1 in
// document order. Errors wrap core.ErrExtraction.
type Extractor interface {
	Extract(ctx context.Context, content []byte, name string) ([]core.Unit, error)
}

// DefaultExtensions lists every extension with an extractor.
var DefaultExtensions = []string{".pdf", ".csv", ".xls", ".xlsx", ".ppt", ".pptx"}

var formatsByExt = map[string]core.Format{
	".pdf":  core.FormatPDF,
	".xls":  core.FormatExcel,
	".xlsx": core.FormatExcel,
	".csv":  core.FormatCSV,
	".ppt":  core.FormatPresentation,
	".pptx": core.FormatPresentation,
}

// ErrNoExtractor is returned when a format has no registered extractor.
var ErrNoExtractor = errors.New("no extractor registered")

// FormatFor maps a source to its format. Remote sources are always PDF.
func FormatFor(src core.Source) (core.Format, error) {
	if src.Remote {
		return core.FormatPDF, nil
	}
	ext := src.Ext()
	format, ok := formatsByExt[ext]
	if !ok {
		return core.FormatUnknown, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, ext)
	}
	return format, nil
}

// Dispatcher selects an extractor for each source.
// It is immutable after construction and safe for concurrent use.
type Dispatcher struct {
	allowed    map[string]bool
	extractors map[core.Format]Extractor
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithAllowedExtensions restricts dispatch to the given extensions.
// Extensions may be given with or without the leading dot.
func WithAllowedExtensions(exts ...string) Option {
	return func(d *Dispatcher) error {
		allowed := make(map[string]bool, len(exts))
		for _, ext := range exts {
			ext = normalizeExt(ext)
			if _, ok := formatsByExt[ext]; !ok {
				return fmt.Errorf("%w: no extractor for extension %q", core.ErrConfiguration, ext)
			}
			allowed[ext] = true
		}
		if len(allowed) == 0 {
			return fmt.Errorf("%w: at least one extension must be allowed", core.ErrConfiguration)
		}
		d.allowed = allowed
		return nil
	}
}

// WithExtractor replaces the extractor used for a format.
func WithExtractor(format core.Format, x Extractor) Option {
	return func(d *Dispatcher) error {
		if x == nil {
			return fmt.Errorf("%w: nil extractor for %s", core.ErrConfiguration, format)
		}
		d.extractors[format] = x
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// NewDispatcher creates a dispatcher with the built-in extractors and every
// known extension allowed.
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		allowed:    make(map[string]bool, len(formatsByExt)),
		extractors: make(map[core.Format]Extractor),
		logger:     slog.Default().With("component", "extract"),
	}
	for ext := range formatsByExt {
		d.allowed[ext] = true
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	defaults := map[core.Format]Extractor{
		core.FormatPDF:          NewPDF(d.logger),
		core.FormatPresentation: NewPresentation(),
		core.FormatCSV:          NewCSV(),
		core.FormatExcel:        NewExcel(d.logger),
	}
	for format, x := range defaults {
		if _, ok := d.extractors[format]; !ok {
			d.extractors[format] = x
		}
	}
	return d, nil
}

// Dispatch returns the format and extractor for a source.
// Unknown and disallowed extensions fail with core.ErrUnsupportedFormat.
func (d *Dispatcher) Dispatch(src core.Source) (core.Format, Extractor, error) {
	format, err := FormatFor(src)
	if err != nil {
		return core.FormatUnknown, nil, err
	}

	ext := src.Ext()
	if src.Remote {
		ext = ".pdf"
	}
	if !d.allowed[ext] {
		return core.FormatUnknown, nil, fmt.Errorf("%w: extension %q not allowed", core.ErrUnsupportedFormat, ext)
	}

	x, ok := d.extractors[format]
	if !ok {
		return core.FormatUnknown, nil, fmt.Errorf("%w: %w: %s", core.ErrUnsupportedFormat, ErrNoExtractor, format)
	}
	return format, x, nil
}

// Allowed returns the allowed extensions.
func (d *Dispatcher) Allowed() []string {
	exts := make([]string, 0, len(d.allowed))
	for _, ext := range DefaultExtensions {
		if d.allowed[ext] {
			exts = append(exts, ext)
		}
	}
	return exts
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func extractionError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrExtraction, name, err)
}
