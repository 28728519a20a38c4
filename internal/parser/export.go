package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"ocr-rag/internal/models"
)

// ExportText writes every document to a flat text file, one block per page or
// image, for inspection without building an index. Output depends only on docs.
func ExportText(docs []models.Document, outputPath string) error {
	if parent := filepath.Dir(outputPath); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create export folder: %w", err)
		}
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		fmt.Fprintf(&buf, models.ExportHeader, doc.Source, doc.Page, doc.UsedOCR)
		buf.WriteString(doc.Content)
		buf.WriteString("\n\n")
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write export %s: %w", outputPath, err)
	}

	log.Info().Int("blocks", len(docs)).Str("path", outputPath).Msg("Exported document blocks")
	return nil
}
