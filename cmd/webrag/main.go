// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/webrag"
	"github.com/poiesic/webrag/api"
	"github.com/poiesic/webrag/config"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/ingestion"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/reindex"
	"github.com/poiesic/webrag/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "webrag",
		Usage: "Ingest web pages and answer questions about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"WEBRAG_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "webrag.yaml",
				EnvVars: []string{"WEBRAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "HTTP listen address (overrides config)",
					},
					&cli.BoolFlag{
						Name:  "with-worker",
						Usage: "Also run an ingestion worker in this process (required unless every storage backend is postgres)",
					},
				},
			},
			{
				Name:   "worker",
				Usage:  "Consume the ingestion queue until interrupted (alongside serve only when every storage backend is postgres)",
				Action: workerCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of consumer loops (overrides config)",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Submit URLs for ingestion",
				ArgsUsage: "URL [URL...]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "now",
						Usage: "Process the submitted jobs in this process instead of leaving them to a worker",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Answer a question from the knowledge base",
				ArgsUsage: "QUESTION",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "session",
						Aliases: []string{"s"},
						Usage:   "Session ID for conversational context",
					},
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of chunks to retrieve",
						Value:   query.DefaultTopK,
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Print intermediate retrieval results",
					},
				},
			},
			{
				Name:      "job",
				Usage:     "Show an ingestion job",
				ArgsUsage: "JOB_ID",
				Action:    jobCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "chunks",
						Usage: "Also print the job's chunks",
					},
				},
			},
			{
				Name:  "session",
				Usage: "Inspect or reset a conversation session",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						ArgsUsage: "SESSION_ID",
						Action:    sessionShowCommand,
					},
					{
						Name:      "clear",
						ArgsUsage: "SESSION_ID",
						Action:    sessionClearCommand,
					},
					{
						Name:      "delete",
						ArgsUsage: "SESSION_ID",
						Action:    sessionDeleteCommand,
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed stored chunks into the vector index",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job",
						Usage: "Only reindex this job",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each batch",
						Value: reindex.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
			{
				Name:      "init-config",
				Usage:     "Write the default configuration to a file",
				ArgsUsage: "[PATH]",
				Action:    initConfigCommand,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.DataDir = db
	}
	return cfg, nil
}

func openEngine(ctx context.Context, c *cli.Context) (*webrag.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	engine, err := webrag.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	submitter, err := engine.NewSubmitter()
	if err != nil {
		return err
	}
	orchestrator, err := engine.NewOrchestrator()
	if err != nil {
		return err
	}
	server, err := api.NewServer(api.Services{
		Submitter:    submitter,
		Orchestrator: orchestrator,
		Jobs:         engine.Jobs(),
		Chunks:       engine.Chunks(),
		Sessions:     engine.Sessions(),
		Queue:        engine.Queue(),
	})
	if err != nil {
		return err
	}

	workerDone := make(chan error, 1)
	if c.Bool("with-worker") {
		worker, err := engine.NewWorker()
		if err != nil {
			return err
		}
		defer worker.Release()
		go func() { workerDone <- worker.Run(ctx) }()
	} else {
		close(workerDone)
	}

	addr := c.String("listen")
	if addr == "" {
		addr = engine.Config().Server.Listen
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- server.Listen(addr) }()

	select {
	case err := <-listenErr:
		stop()
		<-workerDone
		return err
	case <-ctx.Done():
	}

	slog.Info("received shutdown signal, shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	return errors.Join(err, <-workerDone)
}

func workerCommand(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var opts []ingestion.Option
	if n := c.Int("concurrency"); n > 0 {
		opts = append(opts, ingestion.WithConcurrency(n))
	}
	worker, err := engine.NewWorker(opts...)
	if err != nil {
		return err
	}
	defer worker.Release()

	if err := worker.Run(ctx); err != nil {
		return err
	}
	stats := worker.Stats()
	fmt.Fprintf(os.Stderr, "Processed %d jobs: %d completed, %d failed, %d aborted\n",
		stats.Processed, stats.Completed, stats.Failed, stats.Aborted)
	return nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	ctx, stop := signalContext()
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	submitter, err := engine.NewSubmitter()
	if err != nil {
		return err
	}
	var worker *ingestion.Worker
	if c.Bool("now") {
		if worker, err = engine.NewWorker(); err != nil {
			return err
		}
		defer worker.Release()
	}

	var errs []error
	for _, url := range c.Args().Slice() {
		sub, err := submitter.Submit(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		if err := printJSON(sub); err != nil {
			return err
		}
	}

	if worker != nil {
		for {
			job, err := engine.Queue().Dequeue(ctx, time.Second)
			if err != nil {
				return errors.Join(append(errs, err)...)
			}
			if job == nil {
				break
			}
			if err := worker.ProcessJob(ctx, job); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", job.URL, err))
			}
			stored, err := engine.Jobs().GetJob(ctx, job.ID)
			if err == nil {
				fmt.Fprintf(os.Stderr, "%s %s (%d chunks)\n", stored.URL, stored.Status, stored.ChunkCount)
			}
		}
	}
	return errors.Join(errs...)
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}
	ctx, stop := signalContext()
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	orchestrator, err := engine.NewOrchestrator()
	if err != nil {
		return err
	}

	var monitor query.Monitor
	if c.Bool("verbose") {
		monitor = newVerboseMonitor(os.Stderr)
	}
	result, err := orchestrator.AnswerWithMonitor(ctx, query.Request{
		Query:     question,
		SessionID: c.String("session"),
		TopK:      c.Int("top-k"),
	}, monitor)
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, src := range result.Sources {
			fmt.Printf("%d: %s [%0.3f]\n", i+1, src.URL, src.Score)
		}
	}
	return nil
}

func jobCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	ctx := context.Background()
	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	job, err := engine.Jobs().GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !c.Bool("chunks") {
		return printJSON(job)
	}

	chunks, err := engine.Chunks().GetChunksByJob(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(struct {
		*core.Job
		Chunks []*core.Chunk `json:"chunks"`
	}{job, chunks})
}

func withSession(c *cli.Context, fn func(ctx context.Context, sessions storage.SessionRepository, id string) error) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	ctx := context.Background()
	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(ctx, engine.Sessions(), id)
}

func sessionShowCommand(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, sessions storage.SessionRepository, id string) error {
		session, err := sessions.GetSession(ctx, id)
		if err != nil {
			return err
		}
		for _, msg := range session.Messages {
			fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format(time.RFC3339), msg.Role, msg.Content)
		}
		return nil
	})
}

func sessionClearCommand(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, sessions storage.SessionRepository, id string) error {
		return sessions.ClearSession(ctx, id)
	})
}

func sessionDeleteCommand(c *cli.Context) error {
	return withSession(c, func(ctx context.Context, sessions storage.SessionRepository, id string) error {
		return sessions.DeleteSession(ctx, id)
	})
}

func reindexCommand(c *cli.Context) error {
	reindexConfig := &reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}

	// Validate config
	if reindexConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reindexConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reindexConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	ctx, stop := signalContext()
	defer stop()

	engine, err := openEngine(ctx, c)
	if err != nil {
		return err
	}
	defer engine.Close()

	cfg := engine.Config()
	fmt.Fprintf(os.Stderr, "Database: %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(os.Stderr, "Vector backend: %s\n", cfg.Storage.VectorBackend)
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.Embedding.Host)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintln(os.Stderr)

	if _, err := engine.NewReindexer(reindexConfig, os.Stderr).Run(ctx, c.String("job")); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String("config")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
