package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ocr-rag/internal/chunker"
	"ocr-rag/internal/config"
	"ocr-rag/internal/decrypt"
	"ocr-rag/internal/embedding"
	"ocr-rag/internal/helper"
	"ocr-rag/internal/ingest"
	"ocr-rag/internal/llmservice"
	"ocr-rag/internal/logger"
	"ocr-rag/internal/models"
	"ocr-rag/internal/parser"
	"ocr-rag/internal/rag"
	"ocr-rag/internal/server"
	"ocr-rag/internal/vectorstore"
)

const billingURL = "https://platform.openai.com/account/billing"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	defaultConfig := config.DefaultConfigPath
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		defaultConfig = p
	}
	configPath := flag.String("config", defaultConfig, "Path to the YAML config file")
	ingestOnly := flag.Bool("ingest-only", false, "Run ingestion once and exit")
	addr := flag.String("addr", "", "HTTP listen address, overrides HTTP_ADDR")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Error configuring logger")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log.Debug().Str("collection", cfg.RAG.CollectionName).Str("docs_dir", cfg.Docs.Dir).
		Bool("postgres", cfg.UsePostgres()).Bool("export_only", cfg.ExportOnly()).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle := vectorstore.NewHandle()
	orchestrator, err := newOrchestrator(cfg, handle)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing ingestion")
	}

	if *ingestOnly {
		res, err := runIngestion(ctx, orchestrator)
		if err != nil {
			os.Exit(1)
		}
		helper.PrettyPrint(res)
		return
	}

	var answerer server.Answerer = unavailableAnswerer{}
	if !cfg.ExportOnly() {
		chat, err := llmservice.New(cfg.ChatLLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing chat model")
		}
		answerer = rag.New(chat, rag.Options{
			TopK:            cfg.RAG.TopK,
			MaxContextChars: cfg.RAG.MaxContextChars,
		})
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(handle, answerer, cfg.RAG.CollectionName, cfg.RAG.TopK).Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Ingestion runs behind the server so /health answers while pages are OCR'd.
	ingested := make(chan struct{})
	if cfg.IngestOnStartup {
		go func() {
			defer close(ingested)
			_, _ = runIngestion(ctx, orchestrator)
		}()
	} else {
		close(ingested)
		log.Info().Msg("INGEST_ON_STARTUP=false, skipping ingestion")
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	<-ingested
	if index, err := handle.Index(); err == nil {
		_ = index.Close()
	}
	log.Info().Msg("Server stopped gracefully")
}

func newOrchestrator(cfg *config.Config, handle *vectorstore.Handle) (*ingest.Orchestrator, error) {
	extractor := parser.NewExtractor(parser.Options{
		MinTextLen: cfg.Docs.MinTextLen,
		DPI:        cfg.Docs.DPI,
		Language:   cfg.Docs.OCRLanguage,
	}, nil, nil)

	decrypter := decrypt.New(decrypt.Options{
		EncryptedDir: cfg.Docs.EncryptedDir,
		DecryptedDir: cfg.Docs.DecryptedDir,
		ProcessedDir: cfg.Docs.ProcessedDir,
	})

	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	var builder ingest.IndexBuilder = unavailableBuilder{}
	if !cfg.ExportOnly() {
		embedder, err := embedding.New(cfg.EmbedLLM)
		if err != nil {
			return nil, err
		}
		builder = vectorstore.NewBuilder(cfg, embedder)
	}

	return ingest.NewOrchestrator(ingest.Options{
		DocsDir:      cfg.Docs.Dir,
		DecryptedDir: cfg.Docs.DecryptedDir,
		ExportPath:   cfg.Docs.ExportPath,
		BatchDecrypt: cfg.UseBatchDecryption(),
	}, extractor, decrypter, splitter, builder, handle), nil
}

// runIngestion exits on configuration errors. Other failures are logged and
// the server keeps running with the index marked failed.
func runIngestion(ctx context.Context, o *ingest.Orchestrator) (*ingest.Result, error) {
	res, err := o.Run(ctx)
	switch {
	case err == nil:
		log.Info().Int("documents", res.Documents).Int("chunks", res.Chunks).
			Str("backend", res.Backend).Str("exported", res.Exported).Msg("Startup ingestion finished")
	case errors.Is(err, parser.ErrDocsDirNotFound), errors.Is(err, parser.ErrNoSupportedFiles):
		log.Fatal().Err(err).Msg("Invalid documents folder")
	case errors.Is(err, embedding.ErrQuotaExceeded), errors.Is(err, embedding.ErrRateLimited):
		log.Error().Err(err).Msgf("OpenAI quota exceeded (no balance or rate limit). Add credits at %s", billingURL)
	default:
		log.Error().Err(err).Msg("Ingestion failed")
	}
	return res, err
}

// unavailableBuilder stands in when no embedding provider is configured.
type unavailableBuilder struct{}

func (unavailableBuilder) Build(context.Context, []models.Chunk) (*vectorstore.Index, error) {
	return nil, vectorstore.ErrNotReady
}

type unavailableAnswerer struct{}

func (unavailableAnswerer) Answer(context.Context, rag.Retriever, string, int) (*models.Answer, error) {
	return nil, vectorstore.ErrNotReady
}
