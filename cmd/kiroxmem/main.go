// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

// kiroxmem runs the semantic memory core as an MCP stdio server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DeL1215/kirox-memory/pkg/chatmem"
	"github.com/DeL1215/kirox-memory/pkg/config"
	"github.com/DeL1215/kirox-memory/pkg/embedding"
	"github.com/DeL1215/kirox-memory/pkg/kb"
	"github.com/DeL1215/kirox-memory/pkg/mcpserver"
	"github.com/DeL1215/kirox-memory/pkg/telemetry"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore/embedded"
	"github.com/DeL1215/kirox-memory/pkg/vectorstore/qdrant"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "kiroxmem:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Stdout carries the MCP transport, so logs go to stderr.
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	// Reconfigure logging when the config file changes. Schema-affecting
	// settings stay fixed until restart.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, config.WithWatchLogger(logger))
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		watcher.OnChange(func(next *config.Config) {
			telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
		})
		watcher.Start(ctx)
	}

	shutdownTelemetry, err := telemetry.Init("kirox-memory", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	engine, err := buildEngine(cfg.Embedding)
	if err != nil {
		return err
	}

	sched := embedding.NewScheduler(engine, embedding.SchedulerConfig{
		BatchSize:     cfg.Embedding.BatchSize,
		BatchWindow:   time.Duration(cfg.Embedding.BatchWindowMS) * time.Millisecond,
		QueueCapacity: cfg.Embedding.QueueCapacity,
		MaxTextRunes:  cfg.Embedding.MaxTextRunes,
	}, embedding.WithLogger(logger), embedding.WithMetrics(metrics))
	sched.Start()
	defer sched.Close()

	backend, closeBackend, err := buildBackend(cfg.Vector)
	if err != nil {
		return err
	}
	defer closeBackend()

	manager := vectorstore.NewManager(backend,
		vectorstore.WithFlushInterval(time.Duration(cfg.Vector.FlushIntervalS)*time.Second),
		vectorstore.WithManagerLogger(logger),
		vectorstore.WithManagerMetrics(metrics))

	if err := ensureCollections(ctx, manager, cfg); err != nil {
		return err
	}
	manager.Start()
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Close(cctx); err != nil {
			logger.Error("vector store close failed", "error", err)
		}
	}()

	db, err := sql.Open("sqlite", cfg.Chat.SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	chatStore, err := chatmem.NewSQLiteChatStore(db)
	if err != nil {
		return fmt.Errorf("chat store: %w", err)
	}
	docStore, err := kb.NewSQLiteDocStore(db)
	if err != nil {
		return fmt.Errorf("kb store: %w", err)
	}

	zone, err := time.LoadLocation(cfg.Chat.StatsZone)
	if err != nil {
		return fmt.Errorf("load stats zone %q: %w", cfg.Chat.StatsZone, err)
	}

	chatSvc := chatmem.NewService(sched, manager, chatStore,
		chatmem.WithStatsZone(zone),
		chatmem.WithServiceLogger(logger))
	kbSvc := kb.NewService(sched, manager, docStore,
		kb.WithServiceLogger(logger))

	srv := mcpserver.New("kirox-memory", version, chatSvc, kbSvc, logger)

	logger.Info("memory core ready",
		"engine", cfg.Embedding.Provider,
		"backend", cfg.Vector.Backend,
		"dimension", cfg.Embedding.Dimension)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ServeStdio() }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	}
}

func buildEngine(cfg config.EmbeddingConfig) (embedding.Engine, error) {
	switch cfg.Provider {
	case "ollama", "":
		return embedding.NewOllamaEngine(cfg.BaseURL, cfg.Model, cfg.Dimension), nil
	case "mock":
		return embedding.NewMockEngine(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func buildBackend(cfg config.VectorConfig) (vectorstore.Backend, func(), error) {
	switch cfg.Backend {
	case "embedded", "":
		return embedded.New(), func() {}, nil
	case "qdrant":
		store, err := qdrant.New(cfg.QdrantAddr)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("qdrant close failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// ensureCollections brings up the chat and knowledge collections, or the
// full set from the manifest when one is configured.
func ensureCollections(ctx context.Context, manager *vectorstore.Manager, cfg *config.Config) error {
	if cfg.Vector.ManifestPath != "" {
		manifest, err := vectorstore.LoadManifest(cfg.Vector.ManifestPath)
		if err != nil {
			return err
		}
		for _, schema := range manifest.Collections {
			if err := manager.EnsureCollection(ctx, schema); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range []string{chatmem.DefaultCollection, kb.DefaultCollection} {
		err := manager.EnsureCollection(ctx, vectorstore.Schema{
			Name:      name,
			Dimension: cfg.Embedding.Dimension,
			Metric:    vectorstore.Metric(cfg.Vector.Metric),
			Index:     vectorstore.IndexKind(cfg.Vector.IndexKind),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
