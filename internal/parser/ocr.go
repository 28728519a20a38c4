package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCR recognises text in rendered pages and image files. lang uses Tesseract
// codes and may combine several with "+", e.g. "eng+deu".
type OCR interface {
	ImageText(ctx context.Context, img []byte, lang string) (string, error)
	FileText(ctx context.Context, path string, lang string) (string, error)
}

// Tesseract runs OCR through libtesseract. A client is created per call since
// gosseract clients are not safe for concurrent use.
type Tesseract struct{}

func NewTesseract() *Tesseract {
	return &Tesseract{}
}

func (t *Tesseract) ImageText(ctx context.Context, img []byte, lang string) (string, error) {
	return t.run(ctx, lang, func(c *gosseract.Client) error {
		return c.SetImageFromBytes(img)
	})
}

func (t *Tesseract) FileText(ctx context.Context, path string, lang string) (string, error) {
	return t.run(ctx, lang, func(c *gosseract.Client) error {
		return c.SetImage(path)
	})
}

func (t *Tesseract) run(ctx context.Context, lang string, setImage func(*gosseract.Client) error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		return "", fmt.Errorf("failed to set ocr language %q: %w", lang, err)
	}
	if err := setImage(client); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to recognise text: %w", err)
	}
	return text, nil
}
