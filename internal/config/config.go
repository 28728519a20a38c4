package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"ocr-rag/internal/models"
)

const DefaultConfigPath = "./configs/config.yaml"

var (
	ErrMissingAPIKey = errors.New("missing OPENAI_API_KEY; set EXPORT_OCR_TXT to export OCR text without the API")
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	EmbedLLM LLMConfig      `koanf:"embed_llm"`
	ChatLLM  LLMConfig      `koanf:"chat_llm"`
	RAG      RAGConfig      `koanf:"rag"`
	Docs     DocsConfig     `koanf:"docs"`

	// OpenAIKey and OpenAIBaseURL are shared by both models unless a model sets its own.
	OpenAIKey       string `koanf:"openai_api_key"`
	OpenAIBaseURL   string `koanf:"openai_base_url"`
	IngestOnStartup bool   `koanf:"ingest_on_startup"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

type ServerConfig struct {
	Addr            string `koanf:"addr"`
	ReadTimeoutSec  int    `koanf:"read_timeout_sec"`
	WriteTimeoutSec int    `koanf:"write_timeout_sec"`
	ShutdownSec     int    `koanf:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the networked vector database settings. An empty URL selects the local store.
type DatabaseConfig struct {
	URL   string `koanf:"url"`
	Debug bool   `koanf:"debug"`
}

type LLMConfig struct {
	Provider  string `koanf:"provider"` // openai, ollama
	BaseURL   string `koanf:"base_url"`
	Key       string `koanf:"key"`
	Model     string `koanf:"model"`
	BatchSize int    `koanf:"batch_size"`
}

type RAGConfig struct {
	CollectionName  string `koanf:"collection_name"`
	PersistDir      string `koanf:"persist_dir"`
	EncryptionKey   string `koanf:"encryption_key"`
	ChunkSize       int    `koanf:"chunk_size"`
	ChunkOverlap    int    `koanf:"chunk_overlap"`
	TopK            int    `koanf:"top_k"`
	MaxContextChars int    `koanf:"max_context_chars"`
}

type DocsConfig struct {
	Dir          string  `koanf:"dir"`
	OCRLanguage  string  `koanf:"ocr_language"`
	MinTextLen   int     `koanf:"min_text_len"`
	DPI          float64 `koanf:"dpi"`
	ExportPath   string  `koanf:"export_path"`
	EncryptedDir string  `koanf:"encrypted_dir"`
	DecryptedDir string  `koanf:"decrypted_dir"`
	ProcessedDir string  `koanf:"processed_dir"`
}

// envMappings binds the recognised environment variables to config paths.
var envMappings = map[string]string{
	"OPENAI_API_KEY":          "openai_api_key",
	"OPENAI_BASE_URL":         "openai_base_url",
	"DATABASE_URL":            "database.url",
	"DB_DEBUG":                "database.debug",
	"VECTOR_PERSIST_DIR":      "rag.persist_dir",
	"VECTOR_EXPORT_KEY":       "rag.encryption_key",
	"COLLECTION_NAME":         "rag.collection_name",
	"CHUNK_SIZE":              "rag.chunk_size",
	"CHUNK_OVERLAP":           "rag.chunk_overlap",
	"RAG_TOP_K":               "rag.top_k",
	"RAG_MAX_CONTEXT_CHARS":   "rag.max_context_chars",
	"DOCS_DIR":                "docs.dir",
	"OCR_LANGUAGE":            "docs.ocr_language",
	"OCR_DPI":                 "docs.dpi",
	"MIN_TEXT_LEN":            "docs.min_text_len",
	"EXPORT_OCR_TXT":          "docs.export_path",
	"ENCRYPTED_DOCS_DIR":      "docs.encrypted_dir",
	"DECRYPTED_DOCS_DIR":      "docs.decrypted_dir",
	"PROCESSED_ENCRYPTED_DIR": "docs.processed_dir",
	"EMBEDDING_PROVIDER":      "embed_llm.provider",
	"EMBEDDING_MODEL":         "embed_llm.model",
	"EMBEDDING_BATCH_SIZE":    "embed_llm.batch_size",
	"OLLAMA_URL":              "embed_llm.base_url",
	"CHAT_MODEL":              "chat_llm.model",
	"INGEST_ON_STARTUP":       "ingest_on_startup",
	"HTTP_ADDR":               "server.addr",
	"LOG_LEVEL":               "log_level",
	"LOG_FORMAT":              "log_format",
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 120,
			ShutdownSec:     10,
		},
		EmbedLLM: LLMConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		},
		ChatLLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		RAG: RAGConfig{
			CollectionName:  "legal_docs",
			PersistDir:      ".data/vectors",
			ChunkSize:       models.ChunkSize,
			ChunkOverlap:    models.ChunkOverlap,
			TopK:            models.TopK,
			MaxContextChars: models.MaxContextChars,
		},
		Docs: DocsConfig{
			Dir:          "docs",
			OCRLanguage:  "eng",
			MinTextLen:   models.MinTextLen,
			DPI:          models.DefaultDPI,
			DecryptedDir: ".data/decrypted",
			ProcessedDir: ".data/processed_encrypted",
		},
		IngestOnStartup: true,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// LoadConfig layers defaults, the optional YAML file at path and the environment.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := loadYAML(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key string, value string) (string, any) {
			configPath, ok := envMappings[key]
			if !ok {
				return "", nil
			}
			return configPath, strings.TrimSpace(value)
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for key, value := range flattenMap("", raw) {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
	}
	return nil
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

// ApplyDefaults fills blank values that the environment may have cleared.
func (c *Config) ApplyDefaults() {
	def := Default()
	if strings.TrimSpace(c.RAG.PersistDir) == "" {
		c.RAG.PersistDir = def.RAG.PersistDir
	}
	if strings.TrimSpace(c.Docs.DecryptedDir) == "" {
		c.Docs.DecryptedDir = def.Docs.DecryptedDir
	}
	if strings.TrimSpace(c.Docs.ProcessedDir) == "" {
		c.Docs.ProcessedDir = def.Docs.ProcessedDir
	}
	if c.Docs.Dir == "" {
		c.Docs.Dir = def.Docs.Dir
	}
	if c.Docs.OCRLanguage == "" {
		c.Docs.OCRLanguage = def.Docs.OCRLanguage
	}
	if c.RAG.CollectionName == "" {
		c.RAG.CollectionName = def.RAG.CollectionName
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = def.EmbedLLM.Provider
	}
	if c.EmbedLLM.BatchSize <= 0 {
		c.EmbedLLM.BatchSize = def.EmbedLLM.BatchSize
	}
	if c.EmbedLLM.Key == "" {
		c.EmbedLLM.Key = c.OpenAIKey
	}
	if c.ChatLLM.Key == "" {
		c.ChatLLM.Key = c.OpenAIKey
	}
	if c.ChatLLM.BaseURL == "" {
		c.ChatLLM.BaseURL = c.OpenAIBaseURL
	}
	if c.EmbedLLM.BaseURL == "" && c.EmbedLLM.Provider == "openai" {
		c.EmbedLLM.BaseURL = c.OpenAIBaseURL
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
}

// Validate reports configuration errors that must stop the process before it serves.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" && c.ChatLLM.Key == "" && !c.ExportOnly() {
		return ErrMissingAPIKey
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", ErrInvalidConfig, c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: top k must be positive", ErrInvalidConfig)
	}
	if c.RAG.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max context chars must be positive", ErrInvalidConfig)
	}
	if c.Docs.DPI <= 0 {
		return fmt.Errorf("%w: ocr dpi must be positive", ErrInvalidConfig)
	}
	switch c.EmbedLLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.EmbedLLM.Provider)
	}
	return nil
}

func (c *Config) UsePostgres() bool {
	return strings.TrimSpace(c.Database.URL) != ""
}

// ExportOnly reports whether ingestion stops after writing extracted text to a file.
func (c *Config) ExportOnly() bool {
	return strings.TrimSpace(c.Docs.ExportPath) != ""
}

func (c *Config) UseBatchDecryption() bool {
	return strings.TrimSpace(c.Docs.EncryptedDir) != ""
}
