package models

// Document is the text extracted from one PDF page or one image.
type Document struct {
	Content string
	Source  string
	Path    string
	Page    int
	UsedOCR bool
}

// Metadata returns the provenance carried forward by every chunk of the document.
func (d Document) Metadata() ChunkMetadata {
	return ChunkMetadata{
		Source:  d.Source,
		Path:    d.Path,
		Page:    d.Page,
		UsedOCR: d.UsedOCR,
	}
}

// ChunkMetadata represents the provenance of a chunk
type ChunkMetadata struct {
	Source     string `json:"source"`
	Path       string `json:"path"`
	Page       int    `json:"page"`
	UsedOCR    bool   `json:"used_ocr"`
	ChunkIndex int    `json:"chunk_index"`
}

// Chunk represents a bounded slice of a document with its metadata
type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}
