package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"ragbench/internal/bench"
	"ragbench/internal/chat"
	"ragbench/internal/chunker"
	"ragbench/internal/config"
	"ragbench/internal/domain"
	"ragbench/internal/embedding/tfidf"
	"ragbench/internal/logging"
	"ragbench/internal/ollama"
	"ragbench/internal/service"
	"ragbench/internal/transcript"
	"ragbench/internal/tui"
	"ragbench/internal/vectorstore/memory"
	"ragbench/internal/vectorstore/qdrant"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "config",
		Usage: "Path to YAML config file (uses ./config.yaml or ~/.config/ragbench/config.yaml if not provided)",
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Open the chat screen, optionally over ingested documents",
		ArgsUsage: "[files...]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "context",
				Usage: "Resume from a saved .context file",
			},
			&cli.BoolFlag{
				Name:  "rag",
				Usage: "Augment questions with retrieved chunks",
			},
		},
		Action: chatAction,
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Chunk, embed and store .txt files",
		ArgsUsage: "files...",
		Flags:     []cli.Flag{configFlag()},
		Action:    ingestAction,
	}
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:      "bench",
		Usage:     "Ask every question of a JSON question set and summarize tokens per second",
		ArgsUsage: "QA.json [files...]",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "rag",
				Usage: "Augment questions with retrieved chunks",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: table, json or yaml",
				Value: "table",
			},
		},
		Action: benchAction,
	}
}

func contextCommand() *cli.Command {
	return &cli.Command{
		Name:  "context",
		Usage: "Inspect saved continuation contexts",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Print a saved context and its length",
				ArgsUsage: "FILE",
				Action:    contextShowAction,
			},
		},
	}
}

func chatAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []chat.Option{chat.WithLogger(log)}
	if c.Bool("rag") || c.Args().Present() {
		svc, err := newRetriever(c.Context, cfg, log, c.Args().Slice())
		if err != nil {
			return err
		}
		opts = append(opts, chat.WithRetriever(svc))
	}

	session := chat.NewSession(cfg.LLM, newGenerator(cfg, log), opts...)
	if path := c.String("context"); path != "" {
		if err := session.LoadContext(path); err != nil {
			return err
		}
	}
	log.Info("chat started", zap.String("session_id", session.ID()), zap.String("model", session.Model()))

	m := tui.New(session, "ragbench")
	session.OnUpdate = m.Notify
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func ingestAction(c *cli.Context) error {
	if !c.Args().Present() {
		return cli.Exit("Usage: ragbench ingest [--config FILE] files...", 1)
	}
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := persistentIndex(cfg); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	svc, err := newRAGService(cfg, log)
	if err != nil {
		return err
	}
	n, err := svc.IngestDocuments(c.Context, c.Args().Slice())
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Ingested %d chunks into %s store\n", n, cfg.VectorStore.Type)
	return nil
}

func contextShowAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("Usage: ragbench context show FILE", 1)
	}
	tokens, err := transcript.LoadContext(c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d tokens\n%s\n", len(tokens), transcript.FormatContext(tokens))
	return nil
}

func benchAction(c *cli.Context) error {
	if !c.Args().Present() {
		return cli.Exit("Usage: ragbench bench [--config FILE] [--rag] [--format table|json|yaml] QA.json [files...]", 1)
	}
	format, err := parseFormat(c.String("format"))
	if err != nil {
		return err
	}
	questions, err := bench.LoadQuestions(c.Args().First())
	if err != nil {
		return err
	}
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := []chat.Option{chat.WithLogger(log)}
	docs := c.Args().Tail()
	if c.Bool("rag") || len(docs) > 0 {
		svc, err := newRetriever(c.Context, cfg, log, docs)
		if err != nil {
			return err
		}
		opts = append(opts, chat.WithRetriever(svc))
	}
	session := chat.NewSession(cfg.LLM, newGenerator(cfg, log), opts...)
	log.Info("bench started", zap.String("session_id", session.ID()), zap.Int("questions", len(questions)))

	report, err := bench.NewRunner(session, log).Run(c.Context, questions, func(r bench.Result) {
		fmt.Fprintf(c.App.ErrWriter, "[%d/%d] %s\n", r.Index, len(questions), resultStatus(r))
	})
	report.Model = session.Model()
	if rerr := renderReport(c.App.Writer, format, report); rerr != nil {
		return rerr
	}
	return err
}

func setup(c *cli.Context) (*config.AppConfig, *zap.Logger, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, log, nil
}

// persistentIndex reports why an index built by one process could not be
// queried by a later one with cfg, or nil when it can.
func persistentIndex(cfg *config.AppConfig) error {
	if cfg.VectorStore.Type != "qdrant" {
		return errors.New("the memory vector store does not outlive the process; configure vector_store.type: qdrant or pass the files to index")
	}
	if cfg.Embedder.Type != "ollama" {
		return errors.New("the tfidf embedder is fitted to the ingested files; configure embedder.type: ollama or pass the files to index")
	}
	return nil
}

// newRetriever builds the retrieval pipeline for a session. Given docs, it
// indexes them first; without docs it queries what an earlier ingest stored.
func newRetriever(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, docs []string) (*service.RAGServiceImpl, error) {
	if len(docs) == 0 {
		if err := persistentIndex(cfg); err != nil {
			return nil, fmt.Errorf("--rag without files: %w", err)
		}
	}
	svc, err := newRAGService(cfg, log)
	if err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		n, err := svc.IngestDocuments(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		log.Info("documents ingested", zap.Int("chunks", n))
	}
	return svc, nil
}

func newGenerator(cfg *config.AppConfig, log *zap.Logger) *ollama.Client {
	return ollama.NewClient(ollama.Config{BaseURL: cfg.LLM.Endpoint, Logger: log})
}

// newRAGService assembles the retrieval pipeline named by cfg.
func newRAGService(cfg *config.AppConfig, log *zap.Logger) (*service.RAGServiceImpl, error) {
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder()
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			return nil, fmt.Errorf("ollama embedder config missing")
		}
		emb = ollama.NewClient(ollama.Config{
			BaseURL:    cfg.Embedder.Ollama.BaseURL,
			Model:      cfg.Embedder.Ollama.Model,
			Timeout:    time.Duration(cfg.Embedder.Ollama.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Embedder.Ollama.MaxRetries,
			Logger:     log,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "sentence", "":
		ch = chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var st domain.VectorStore
	switch cfg.VectorStore.Type {
	case "memory", "":
		st = memory.NewStorage()
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		st = qdrant.NewStorage(qdrant.Config{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
			Timeout:    time.Duration(cfg.VectorStore.Qdrant.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}

	return service.NewRAGService(ch, emb, st, cfg.Retrieval.TopK, log), nil
}
