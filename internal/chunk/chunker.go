// Package chunk splits policy document text into overlapping passages
// sized for embedding and retrieval.
package chunk

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Unit selects how chunk size and overlap are measured.
type Unit string

const (
	// UnitCharacters measures chunks in runes.
	UnitCharacters Unit = "characters"
	// UnitTokens measures chunks in cl100k_base tokens.
	UnitTokens Unit = "tokens"
)

// TokenEncoding is the tiktoken encoding used when Unit is tokens.
const TokenEncoding = "cl100k_base"

// ErrInvalidChunking reports an unusable size/overlap configuration.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

// Config controls chunk boundaries. Overlap must be strictly smaller than
// Size so that every window advances.
type Config struct {
	Size    int
	Overlap int
	Unit    Unit
}

// Chunk is one bounded span of a document. Start and End are offsets in the
// configured unit; consecutive chunks overlap by Config.Overlap and never
// skip text.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunker produces overlapping chunks covering a document with no gaps.
type Chunker struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

// NewChunker validates cfg and, for token-based chunking, loads the
// tiktoken encoding.
func NewChunker(cfg Config) (*Chunker, error) {
	if cfg.Unit == "" {
		cfg.Unit = UnitCharacters
	}
	if cfg.Unit != UnitCharacters && cfg.Unit != UnitTokens {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidChunking, cfg.Unit)
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidChunking, cfg.Size)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunking, cfg.Overlap)
	}
	if cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidChunking, cfg.Overlap, cfg.Size)
	}

	c := &Chunker{cfg: cfg}
	if cfg.Unit == UnitTokens {
		enc, err := tiktoken.GetEncoding(TokenEncoding)
		if err != nil {
			return nil, fmt.Errorf("load %s encoding: %w", TokenEncoding, err)
		}
		c.enc = enc
	}
	return c, nil
}

// Split chunks text into overlapping windows. A document shorter than the
// configured size yields exactly one chunk covering the whole text; trailing
// text shorter than a full window is never dropped. Empty text yields no
// chunks.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}
	if c.cfg.Unit == UnitTokens {
		return c.splitTokens(text), nil
	}
	return c.splitRunes(text), nil
}

func (c *Chunker) splitRunes(text string) []Chunk {
	runes := []rune(text)
	var chunks []Chunk
	for start := 0; ; {
		end := min(start+c.cfg.Size, len(runes))
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
		start = end - c.cfg.Overlap
	}
	return chunks
}

func (c *Chunker) splitTokens(text string) []Chunk {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		// Whitespace-only input can encode to zero tokens; keep the text.
		return []Chunk{{Index: 0, Start: 0, End: 0, Text: text}}
	}
	var chunks []Chunk
	for start := 0; ; {
		end := min(start+c.cfg.Size, len(tokens))
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  trimPartialRunes(c.enc.Decode(tokens[start:end])),
		})
		if end == len(tokens) {
			break
		}
		start = end - c.cfg.Overlap
	}
	return chunks
}

// trimPartialRunes drops invalid UTF-8 at the edges of a decoded token
// window. cl100k_base tokens are byte-level, so a window boundary can land
// inside a multi-byte rune and leave severed bytes at either edge. A genuine
// U+FFFD in the text decodes with size 3 and is kept.
func trimPartialRunes(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[1:]
	}
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
