package models

const (
	MinTextLen      = 30
	DefaultDPI      = 300
	ChunkSize       = 1000 // characters
	ChunkOverlap    = 150  // characters
	TopK            = 4
	MaxContextChars = 12_000
	Temperature     = 0.2

	ContextSeparator = "\n\n---\n\n"
	ChunkHeader      = "[Source: %s | Page: %d]\n"
	ExportHeader     = "=== source: %s | page: %d | used_ocr: %t ===\n\n"
	DecryptedPrefix  = "decrypted_"
)

// ImageExtensions lists the lower-cased image suffixes accepted for OCR.
var ImageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".tiff": {},
	".bmp":  {},
}

var (
	SystemPrompt = "You are a legal-document assistant. Use only the provided context. " +
		"If the answer is not in the context, say you don't know."

	HumanPromptTemplate = `Question:
%s

Context:
%s

Answer clearly and concisely.`
)
