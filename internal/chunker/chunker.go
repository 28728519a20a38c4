package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"ocr-rag/internal/models"
)

// separators are tried in order: paragraph, line, sentence, word, character.
// They stay attached to the following piece so no source text is lost.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits documents into overlapping segments measured in characters.
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", overlap, size)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
			textsplitter.WithKeepSeparator(true),
		),
	}, nil
}

// Chunk splits every document and copies its metadata onto each piece.
// ChunkIndex counts from zero within a document.
func (c *Chunker) Chunk(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		segments, err := c.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("chunk: split %s page %d: %w", doc.Source, doc.Page, err)
		}
		idx := 0
		for _, segment := range segments {
			text := strings.TrimSpace(segment)
			if text == "" {
				continue
			}
			meta := doc.Metadata()
			meta.ChunkIndex = idx
			chunks = append(chunks, models.Chunk{Content: text, Metadata: meta})
			idx++
		}
	}
	return chunks, nil
}
