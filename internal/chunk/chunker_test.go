package chunk

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

// TestNewChunker_InvalidConfig tests rejection of unusable size/overlap pairs.
func TestNewChunker_InvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero size", Config{Size: 0, Overlap: 0}},
		{"negative size", Config{Size: -5, Overlap: 0}},
		{"negative overlap", Config{Size: 10, Overlap: -1}},
		{"overlap equals size", Config{Size: 10, Overlap: 10}},
		{"overlap exceeds size", Config{Size: 10, Overlap: 15}},
		{"unknown unit", Config{Size: 10, Overlap: 2, Unit: Unit("words")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChunker(tc.cfg)
			if !errors.Is(err, ErrInvalidChunking) {
				t.Errorf("expected ErrInvalidChunking, got %v", err)
			}
		})
	}
}

// TestSplit_ShortDocument tests that a document shorter than the chunk size
// becomes exactly one chunk equal to the whole text.
func TestSplit_ShortDocument(t *testing.T) {
	chunker, err := NewChunker(Config{Size: 200, Overlap: 50})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := "Knee surgeries are covered up to Rs. 1,00,000."
	chunks, err := chunker.Split(text)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("chunk text = %q, want whole document", chunks[0].Text)
	}
	if chunks[0].Start != 0 || chunks[0].End != len([]rune(text)) {
		t.Errorf("chunk span = [%d,%d), want [0,%d)", chunks[0].Start, chunks[0].End, len([]rune(text)))
	}
}

// TestSplit_EmptyDocument tests that empty input yields no chunks.
func TestSplit_EmptyDocument(t *testing.T) {
	chunker, err := NewChunker(Config{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks, err := chunker.Split("")
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

// TestSplit_OverlapAndCoverage tests window boundaries: monotonic spans,
// the configured overlap between neighbours, and no dropped trailing text.
func TestSplit_OverlapAndCoverage(t *testing.T) {
	chunker, err := NewChunker(Config{Size: 10, Overlap: 3})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	text := "abcdefghijklmnopqrstuvwxy" // 25 runes
	chunks, err := chunker.Split(text)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// Windows advance by size-overlap=7: [0,10) [7,17) [14,24) [21,25)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d has index %d", i, chunk.Index)
		}
		if i == 0 {
			continue
		}
		prev := chunks[i-1]
		if chunk.Start < prev.Start || chunk.End < prev.End {
			t.Errorf("chunk %d span [%d,%d) not monotonic after [%d,%d)",
				i, chunk.Start, chunk.End, prev.Start, prev.End)
		}
		if chunk.Start != prev.End-3 {
			t.Errorf("chunk %d starts at %d, want overlap of 3 after %d", i, chunk.Start, prev.End)
		}
	}

	last := chunks[len(chunks)-1]
	if last.End != len([]rune(text)) {
		t.Errorf("last chunk ends at %d, trailing text dropped", last.End)
	}
	if !strings.HasSuffix(last.Text, "xy") {
		t.Errorf("last chunk %q missing document tail", last.Text)
	}
}

// TestSplit_Reconstruction tests that de-overlapped chunk texts concatenate
// back to the original document exactly.
func TestSplit_Reconstruction(t *testing.T) {
	docs := []string{
		"Knee surgeries are covered up to Rs. 1,00,000. Cardiac procedures require pre-authorization. Dental care is excluded from the base plan.",
		strings.Repeat("All maternity expenses are covered after a waiting period of nine months. ", 20),
		"короткий полис с юникодом и ограничением покрытия",
	}

	for _, cfg := range []Config{
		{Size: 40, Overlap: 10},
		{Size: 25, Overlap: 0},
		{Size: 7, Overlap: 6},
	} {
		chunker, err := NewChunker(cfg)
		if err != nil {
			t.Fatalf("NewChunker(%+v) failed: %v", cfg, err)
		}
		for _, doc := range docs {
			chunks, err := chunker.Split(doc)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}

			var b strings.Builder
			prevEnd := 0
			for _, chunk := range chunks {
				runes := []rune(chunk.Text)
				b.WriteString(string(runes[prevEnd-chunk.Start:]))
				prevEnd = chunk.End
			}
			if b.String() != doc {
				t.Errorf("cfg %+v: reconstructed text differs from document", cfg)
			}
		}
	}
}

// TestTrimPartialRunes tests stripping severed multi-byte sequences from
// decoded token windows.
func TestTrimPartialRunes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"clean ascii", "covered procedure", "covered procedure"},
		{"clean unicode", "покрытие €500", "покрытие €500"},
		{"severed leading bytes", "\x82\xaccovered", "covered"},
		{"severed trailing byte", "covered \xe2", "covered "},
		{"severed both edges", "\xaccovered\xe2\x82", "covered"},
		{"only severed bytes", "\xe2\x82", ""},
		{"genuine replacement char kept", "covered � here", "covered � here"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := trimPartialRunes(tc.in); got != tc.want {
				t.Errorf("trimPartialRunes(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestSplit_TokensValidUTF8 tests that token windows never surface severed
// multi-byte runes, which the byte-level encoding can produce at window
// boundaries.
func TestSplit_TokensValidUTF8(t *testing.T) {
	chunker, err := NewChunker(Config{Size: 3, Overlap: 0, Unit: UnitTokens})
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}

	doc := "Страховое покрытие составляет до €1.000.000 за каждый случай госпитализации. 入院費用は全額補償されます。"
	chunks, err := chunker.Split(doc)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple token chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if !utf8.ValidString(chunk.Text) {
			t.Errorf("chunk %d text %q is not valid UTF-8", chunk.Index, chunk.Text)
		}
	}
}

// TestSplit_Tokens exercises token-based chunking when the cl100k_base
// dictionary is available locally.
func TestSplit_Tokens(t *testing.T) {
	chunker, err := NewChunker(Config{Size: 8, Overlap: 2, Unit: UnitTokens})
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}

	doc := "Knee surgeries are covered up to Rs. 1,00,000. Cardiac procedures require pre-authorization from the insurer."
	chunks, err := chunker.Split(doc)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple token chunks, got %d", len(chunks))
	}

	var b strings.Builder
	b.WriteString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		// Token spans overlap by 2; decoding is concatenative per token,
		// so reconstruction drops the overlapping prefix by re-splitting.
		overlapText := chunker.enc.Decode(chunker.enc.Encode(doc, nil, nil)[chunks[i].Start:chunks[i-1].End])
		b.WriteString(strings.TrimPrefix(chunks[i].Text, overlapText))
	}
	if b.String() != doc {
		t.Errorf("token chunks do not reconstruct the document")
	}
}
