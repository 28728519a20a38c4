package decrypt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"ocr-rag/internal/helper"
	"ocr-rag/internal/models"
)

// ErrPasswordProtected means the PDF needs a user password to open.
var ErrPasswordProtected = errors.New("pdf is password protected")

type Options struct {
	EncryptedDir string
	DecryptedDir string
	ProcessedDir string
	// TempDir holds single-file decryptions; empty means os.TempDir.
	TempDir string
}

// Service removes PDF encryption with pdfcpu.
type Service struct {
	opts        Options
	decryptFile func(in, out string) error
}

func New(opts Options) *Service {
	return &Service{
		opts: opts,
		decryptFile: func(in, out string) error {
			return api.DecryptFile(in, out, model.NewDefaultConfiguration())
		},
	}
}

// DecryptBatch decrypts every PDF in EncryptedDir into DecryptedDir as
// decrypted_<name> and moves each original to ProcessedDir. Unencrypted PDFs
// are copied over unchanged. Files that fail are logged and left in place. It returns the decrypted paths.
func (s *Service) DecryptBatch(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.opts.EncryptedDir)
	if err != nil {
		log.Info().Str("dir", s.opts.EncryptedDir).Msg("Encrypted folder not set or not found")
		return nil, nil
	}

	var pdfs []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			pdfs = append(pdfs, entry.Name())
		}
	}
	if len(pdfs) == 0 {
		log.Info().Str("dir", s.opts.EncryptedDir).Msg("No PDF files found in encrypted folder")
		return nil, nil
	}

	if err := helper.CreateFolder(s.opts.DecryptedDir); err != nil {
		return nil, err
	}
	if err := helper.CreateFolder(s.opts.ProcessedDir); err != nil {
		return nil, err
	}

	var decrypted []string
	for i, name := range pdfs {
		if err := ctx.Err(); err != nil {
			return decrypted, err
		}
		log.Info().Int("index", i+1).Int("total", len(pdfs)).Str("file", name).Msg("Decrypting PDF")

		src := filepath.Join(s.opts.EncryptedDir, name)
		dst := filepath.Join(s.opts.DecryptedDir, models.DecryptedPrefix+cleanFilename(name))
		if err := s.decrypt(src, dst); err != nil {
			log.Error().Err(err).Str("file", name).Msg("Failed to decrypt PDF")
			continue
		}

		processed := filepath.Join(s.opts.ProcessedDir, name)
		if err := helper.MoveFile(src, processed); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to move original PDF")
		} else {
			log.Info().Str("file", processed).Msg("Original encrypted PDF moved")
		}
		decrypted = append(decrypted, dst)
	}
	return decrypted, nil
}

// DecryptToTemp writes a decrypted copy of path to a temporary file. A PDF
// that pdfcpu cannot decrypt for reasons other than a password is copied as is.
// The returned cleanup removes the temporary file and is safe to call on every path.
func (s *Service) DecryptToTemp(_ context.Context, path string) (string, func(), error) {
	tmp, err := os.CreateTemp(s.opts.TempDir, "decrypt-*.pdf")
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	cleanup := func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", tmpPath).Msg("Failed to remove temp file")
		}
	}

	err = s.decryptFile(path, tmpPath)
	switch {
	case err == nil:
		log.Debug().Str("file", filepath.Base(path)).Msg("PDF decrypted")
	case isPasswordError(err):
		cleanup()
		return "", func() {}, fmt.Errorf("%w: %s", ErrPasswordProtected, filepath.Base(path))
	default:
		log.Debug().Err(err).Str("file", filepath.Base(path)).Msg("PDF not decrypted, copying")
		if err := cp.Copy(path, tmpPath); err != nil {
			cleanup()
			return "", func() {}, fmt.Errorf("failed to copy %s: %w", path, err)
		}
	}
	return tmpPath, cleanup, nil
}

func (s *Service) decrypt(src, dst string) error {
	err := s.decryptFile(src, dst)
	if err == nil {
		return nil
	}
	_ = os.Remove(dst)
	switch {
	case isPasswordError(err):
		return fmt.Errorf("%w: %v", ErrPasswordProtected, err)
	case isNotEncryptedError(err):
		log.Debug().Str("file", filepath.Base(src)).Msg("PDF not encrypted, copying")
		if err := cp.Copy(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return nil
	}
	return err
}

func isPasswordError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "password")
}

func isNotEncryptedError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not encrypted")
}

// cleanFilename strips repeated decrypted_ prefixes so re-runs do not stack them.
func cleanFilename(name string) string {
	for strings.HasPrefix(strings.ToLower(name), models.DecryptedPrefix) {
		name = name[len(models.DecryptedPrefix):]
	}
	return name
}
