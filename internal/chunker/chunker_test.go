package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-rag/internal/models"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%04d", i)
	}
	return strings.Join(parts, " ")
}

func sentences(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %d has a few words in it", i)
	}
	return strings.Join(parts, ". ") + "."
}

func lines(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("Line %02d of the scanned ledger page", i)
	}
	return strings.Join(parts, "\n")
}

// assertCovers checks that chunks are in-order slices of text that together
// cover every non-whitespace byte.
func assertCovers(t *testing.T, text string, chunks []models.Chunk, size int) {
	t.Helper()
	covered := make([]bool, len(text))
	prevStart := -1
	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), size)
		offset := strings.Index(text[prevStart+1:], chunk.Content)
		require.GreaterOrEqual(t, offset, 0, "chunk %d is not a slice of the source", i)
		start := prevStart + 1 + offset
		for j := start; j < start+len(chunk.Content); j++ {
			covered[j] = true
		}
		prevStart = start
	}
	for i, ok := range covered {
		if !ok && !unicode.IsSpace(rune(text[i])) {
			t.Fatalf("byte %d (%q) is not covered by any chunk", i, text[i])
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("Should reject invalid settings", func(t *testing.T) {
		_, err := New(0, 0)
		assert.Error(t, err)
		_, err = New(100, -1)
		assert.Error(t, err)
		_, err = New(100, 100)
		assert.Error(t, err)
	})

	t.Run("Should accept the defaults", func(t *testing.T) {
		_, err := New(models.ChunkSize, models.ChunkOverlap)
		assert.NoError(t, err)
	})
}

func TestChunk(t *testing.T) {
	t.Run("Should bound chunk size and cover the text with overlap", func(t *testing.T) {
		c, err := New(100, 20)
		require.NoError(t, err)
		text := words(200)

		chunks, err := c.Chunk([]models.Document{{Content: text, Source: "a.pdf", Page: 1}})
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)

		prevStart, prevEnd := -1, 0
		for i, chunk := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 100)

			offset := strings.Index(text[prevStart+1:], chunk.Content)
			require.GreaterOrEqual(t, offset, 0, "chunk %d is not a slice of the source", i)
			start := prevStart + 1 + offset
			if i == 0 {
				assert.Equal(t, 0, start)
			} else {
				assert.Less(t, start, prevEnd, "chunk %d leaves a gap", i)
			}
			prevStart, prevEnd = start, start+len(chunk.Content)
		}
		assert.Equal(t, len(text), prevEnd)
	})

	t.Run("Should keep every character at sentence and line boundaries", func(t *testing.T) {
		tests := []struct {
			name string
			text string
			size int
		}{
			{"sentences", sentences(6), 60},
			{"lines", lines(12), 80},
			{"mixed", sentences(4) + "\n" + lines(5) + "\n\n" + sentences(3), 70},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c, err := New(tt.size, 10)
				require.NoError(t, err)
				chunks, err := c.Chunk([]models.Document{{Content: tt.text}})
				require.NoError(t, err)
				require.Greater(t, len(chunks), 1)
				assertCovers(t, tt.text, chunks, tt.size)

				periods := 0
				for _, chunk := range chunks {
					periods += strings.Count(chunk.Content, ".")
				}
				assert.GreaterOrEqual(t, periods, strings.Count(tt.text, "."))
			})
		}
	})

	t.Run("Should prefer paragraph boundaries", func(t *testing.T) {
		c, err := New(60, 10)
		require.NoError(t, err)
		first := "First paragraph is short enough."
		second := "Second paragraph also fits alone."
		chunks, err := c.Chunk([]models.Document{{Content: first + "\n\n" + second}})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, first, chunks[0].Content)
		assert.Equal(t, second, chunks[1].Content)
	})

	t.Run("Should keep oversized tokens within the size limit", func(t *testing.T) {
		c, err := New(50, 5)
		require.NoError(t, err)
		chunks, err := c.Chunk([]models.Document{{Content: "short " + strings.Repeat("x", 130)}})
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 50)
		}
	})

	t.Run("Should copy document metadata onto every chunk", func(t *testing.T) {
		c, err := New(100, 20)
		require.NoError(t, err)
		docs := []models.Document{
			{Content: words(60), Source: "a.pdf", Path: "/in/a.pdf", Page: 3, UsedOCR: true},
			{Content: "single chunk", Source: "b.png", Path: "/in/b.png", Page: 1, UsedOCR: true},
			{Content: "   "},
		}
		chunks, err := c.Chunk(docs)
		require.NoError(t, err)

		var fromA []models.Chunk
		for _, chunk := range chunks {
			if chunk.Metadata.Source == "a.pdf" {
				fromA = append(fromA, chunk)
			}
		}
		require.Greater(t, len(fromA), 1)
		for i, chunk := range fromA {
			assert.Equal(t, models.ChunkMetadata{
				Source: "a.pdf", Path: "/in/a.pdf", Page: 3, UsedOCR: true, ChunkIndex: i,
			}, chunk.Metadata)
		}

		last := chunks[len(chunks)-1]
		assert.Equal(t, "single chunk", last.Content)
		assert.Equal(t, "b.png", last.Metadata.Source)
		assert.Equal(t, 0, last.Metadata.ChunkIndex)
	})

	t.Run("Should be deterministic", func(t *testing.T) {
		c, err := New(100, 20)
		require.NoError(t, err)
		docs := []models.Document{{Content: words(150), Source: "a.pdf", Page: 1}}
		first, err := c.Chunk(docs)
		require.NoError(t, err)
		second, err := c.Chunk(docs)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
