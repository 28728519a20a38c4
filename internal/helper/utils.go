package helper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	cp "github.com/otiai10/copy"
	"github.com/rs/zerolog/log"

	"ocr-rag/internal/models"
)

// recordNamespace scopes the name-based UUIDs used for embedding records.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ocr-rag/records"))

// RecordID derives a stable id for a chunk within a collection, so that
// re-ingesting unchanged documents overwrites records instead of duplicating them.
func RecordID(collection string, chunk models.Chunk) string {
	m := chunk.Metadata
	name := collection + "\x00" + m.Source + "\x00" + strconv.Itoa(m.Page) + "\x00" +
		strconv.Itoa(m.ChunkIndex) + "\x00" + chunk.Content
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// CreateFolder creates path and any missing parents
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// MoveFile renames src to dst, copying across filesystems when a rename is not possible.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if err := cp.Copy(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return os.Remove(src)
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}
