package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/poiesic/prepdocs/core"
)

// ReadURLList parses a URL list: one URL per line, blank lines and lines
// starting with # ignored.
func ReadURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

// LoadURLList reads a URL list file.
func LoadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: url list: %w", core.ErrConfiguration, err)
	}
	defer f.Close()
	return ReadURLList(f)
}
