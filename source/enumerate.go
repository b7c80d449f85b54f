package source

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/poiesic/prepdocs/core"
)

// EnumerateOption configures Enumerate.
type EnumerateOption func(*enumerateOptions)

type enumerateOptions struct {
	skip []func(name string) bool
}

// WithSkip drops directory entries for which skip returns true.
// Only applies when expanding a directory.
func WithSkip(skip func(name string) bool) EnumerateOption {
	return func(o *enumerateOptions) {
		if skip != nil {
			o.skip = append(o.skip, skip)
		}
	}
}

// IsHidden reports whether name is a dot file.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Enumerate expands path into sources. A directory yields its regular files
// in name order, without recursing. A file yields itself.
func Enumerate(path string, opts ...EnumerateOption) ([]core.Source, error) {
	var o enumerateOptions
	for _, opt := range opts {
		opt(&o)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: source path %q does not exist", core.ErrConfiguration, path)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrSource, err)
	}
	if !info.IsDir() {
		return []core.Source{core.NewFileSource(path)}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSource, err)
	}

	var sources []core.Source
	for _, entry := range entries {
		if !entry.Type().IsRegular() || skipped(o.skip, entry.Name()) {
			continue
		}
		sources = append(sources, core.NewFileSource(filepath.Join(path, entry.Name())))
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Name < sources[j].Name
	})
	return sources, nil
}

func skipped(skips []func(string) bool, name string) bool {
	for _, skip := range skips {
		if skip(name) {
			return true
		}
	}
	return false
}

// IsURL reports whether s is an absolute http or https URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FromURLs turns URLs into remote sources. Blank entries and duplicates are
// dropped; anything else that is not an http(s) URL is a configuration error.
func FromURLs(urls []string) ([]core.Source, error) {
	seen := make(map[string]bool, len(urls))
	var sources []core.Source
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		if !IsURL(raw) {
			return nil, fmt.Errorf("%w: invalid source URL %q", core.ErrConfiguration, raw)
		}
		seen[raw] = true
		sources = append(sources, core.NewURLSource(raw))
	}
	return sources, nil
}
