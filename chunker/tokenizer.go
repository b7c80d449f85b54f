package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/poiesic/prepdocs/core"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens in text. Counts must be stable across runs.
type Tokenizer interface {
	Count(text string) int
}

var loaderOnce sync.Once

// Tiktoken counts tokens with a tiktoken BPE encoding.
// Encodings ship with the binary, so no network access is needed.
type Tiktoken struct {
	mu       sync.Mutex
	enc      *tiktoken.Tiktoken
	encoding string
}

var _ Tokenizer = (*Tiktoken)(nil)

// NewTiktoken loads the named encoding. An empty name selects DefaultEncoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer encoding %q: %w", core.ErrConfiguration, encoding, err)
	}
	return &Tiktoken{enc: enc, encoding: encoding}, nil
}

// Encoding returns the encoding name.
func (t *Tiktoken) Encoding() string {
	return t.encoding
}

// Count returns the number of tokens in text. Special tokens are treated as
// ordinary text.
func (t *Tiktoken) Count(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.EncodeOrdinary(text))
}
