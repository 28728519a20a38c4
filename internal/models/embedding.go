package models

// Record is a chunk together with its embedding, as stored by a vector backend.
type Record struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  ChunkMetadata
}

// RetrievedChunk is one ranked hit returned for a query. Rank starts at 1.
type RetrievedChunk struct {
	Content  string
	Metadata ChunkMetadata
	Rank     int
	Score    float32
}

type Source struct {
	Source  string `json:"source"`
	Page    int    `json:"page"`
	UsedOCR bool   `json:"used_ocr"`
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}
