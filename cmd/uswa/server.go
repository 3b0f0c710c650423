package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/uswahq/uswa/internal/agent"
	"github.com/uswahq/uswa/internal/api"
	"github.com/uswahq/uswa/internal/config"
	"github.com/uswahq/uswa/internal/extract"
	"github.com/uswahq/uswa/internal/ingest"
	"github.com/uswahq/uswa/internal/llm"
	"github.com/uswahq/uswa/internal/mail"
	"github.com/uswahq/uswa/internal/objstore"
	"github.com/uswahq/uswa/internal/retrieval"
	"github.com/uswahq/uswa/internal/scheduler"
	"github.com/uswahq/uswa/internal/storage"
	"github.com/uswahq/uswa/internal/triage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the uswa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "uswa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	objects, err := objstore.NewFileStore(cfg.Storage.FilesDir)
	if err != nil {
		return fmt.Errorf("opening file store: %w", err)
	}

	// Shared LLM client; each pipeline picks its model.
	llmClient := llm.New(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		EmbedModel:  cfg.LLM.EmbedModel,
		EmbedDim:    cfg.LLM.EmbedDim,
		VisionModel: cfg.LLM.VisionModel,
	})

	embedder := retrieval.NewEmbedder(llmClient, cfg.LLM.EmbedDim)
	index := retrieval.NewIndex(store.DB(), cfg.LLM.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, index, store, cfg.Retrieval.TopK, float32(cfg.Retrieval.MinScore))

	extractor := extract.New(llmClient)
	pipeline := ingest.New(objects, store, extractor, embedder, 0)

	chatAgent := agent.New(retriever, store, store, llmClient, cfg.LLM.ChatModel, 0)
	sched := scheduler.New(store, llmClient, cfg.LLM.ChatModel, scheduler.Options{
		MaxBacklog:  cfg.Scheduler.MaxBacklog,
		DailyCap:    cfg.Scheduler.DailyCap,
		HorizonDays: cfg.Scheduler.HorizonDays,
	})
	triager := triage.New(mail.New(""), store, llmClient, cfg.LLM.FastModel, cfg.Triage.MaxMessages)

	handler := api.NewAppHandler(api.AppDeps{
		Ingester:  pipeline,
		Agent:     chatAgent,
		Scheduler: sched,
		Triager:   triager,
		Token:     cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Agent:     chatAgent,
		Scheduler: sched,
		Triager:   triager,
		Retriever: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		slog.Info("uswa listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
