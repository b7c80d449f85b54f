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
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/prepdocs"
	"github.com/poiesic/prepdocs/chunker"
	"github.com/poiesic/prepdocs/config"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/extract"
	"github.com/poiesic/prepdocs/ingestion"
	"github.com/poiesic/prepdocs/source"
	"github.com/poiesic/prepdocs/storage"
	"github.com/poiesic/prepdocs/storage/badger"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "prepdocs",
		Usage:  "Extract, chunk and embed documents for retrieval",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest changed sources into the configured sink",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to a YAML configuration file",
					},
					&cli.StringFlag{
						Name:  "env-file",
						Usage: "Dotenv file loaded before reading the environment",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Folder or single file to ingest",
					},
					&cli.StringSliceFlag{
						Name:  "url",
						Usage: "Remote PDF to ingest (repeatable)",
					},
					&cli.StringFlag{
						Name:  "url-file",
						Usage: "File listing remote PDFs, one per line",
					},
					&cli.IntFlag{
						Name:  "max-tokens",
						Usage: "Maximum tokens per chunk",
						Value: config.DefaultMaxTokens,
					},
					&cli.BoolFlag{
						Name:  "recreate",
						Usage: "Ignore recorded fingerprints and reset the sink",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of sources processed concurrently",
					},
					&cli.StringFlag{
						Name:  "ledger-backend",
						Usage: "Fingerprint ledger backend (badger, sidecar)",
						Value: config.LedgerBadger,
					},
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Ledger directory",
						Value: config.DefaultLedgerPath,
					},
					&cli.StringFlag{
						Name:  "sink",
						Usage: "Sink kind (chromem, pgvector, jsonfile)",
						Value: config.SinkChromem,
					},
					&cli.StringFlag{
						Name:  "sink-path",
						Usage: "Vector store directory or JSON output directory",
						Value: config.DefaultSinkPath,
					},
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Vector collection or table name",
						Value: config.DefaultCollection,
					},
					&cli.StringFlag{
						Name:  "database-url",
						Usage: "PostgreSQL connection string for the pgvector sink",
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
					},
					&cli.StringFlag{
						Name:  "embedding-model",
						Usage: "Embedding model name",
					},
					&cli.StringFlag{
						Name:  "proxy",
						Usage: "HTTP proxy for URL sources",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Report progress on stderr",
					},
				},
			},
			{
				Name:      "chunk",
				Usage:     "Extract and chunk one file and print the chunk layout",
				ArgsUsage: "FILE",
				Action:    chunkCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max-tokens",
						Usage: "Maximum tokens per chunk",
						Value: config.DefaultMaxTokens,
					},
					&cli.StringFlag{
						Name:  "encoding",
						Usage: "Tokenizer encoding",
						Value: chunker.DefaultEncoding,
					},
					&cli.BoolFlag{
						Name:  "content",
						Usage: "Print each chunk's text",
					},
				},
			},
			{
				Name:  "ledger",
				Usage: "Inspect or edit the fingerprint ledger",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List recorded sources",
						Action: ledgerListCommand,
						Flags:  []cli.Flag{ledgerFlag()},
					},
					{
						Name:      "forget",
						Usage:     "Forget sources so the next run reprocesses them",
						ArgsUsage: "SOURCE...",
						Action:    ledgerForgetCommand,
						Flags:     []cli.Flag{ledgerFlag()},
					},
				},
			},
		},
	}
}

func ledgerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "ledger",
		Aliases:  []string{"d"},
		Usage:    "Path to the BadgerDB ledger directory",
		Required: true,
	}
}

// loadConfig builds the run configuration: defaults, then the config file,
// then the environment, then explicitly set flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if envFile := c.String("env-file"); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if c.IsSet("source") {
		cfg.SourceFolder = c.String("source")
	}
	if c.IsSet("url") {
		cfg.URLs = append(cfg.URLs, c.StringSlice("url")...)
	}
	if path := c.String("url-file"); path != "" {
		urls, err := source.LoadURLList(path)
		if err != nil {
			return nil, err
		}
		cfg.URLs = append(cfg.URLs, urls...)
	}
	if c.IsSet("max-tokens") {
		cfg.MaxTokensPerChunk = c.Int("max-tokens")
	}
	if c.IsSet("recreate") {
		cfg.Recreate = c.Bool("recreate")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("ledger-backend") {
		cfg.Ledger.Backend = c.String("ledger-backend")
	}
	if c.IsSet("ledger") {
		cfg.Ledger.Path = c.String("ledger")
	}
	if c.IsSet("sink") {
		cfg.Sink.Kind = c.String("sink")
	}
	if c.IsSet("sink-path") {
		cfg.Sink.Path = c.String("sink-path")
	}
	if c.IsSet("collection") {
		cfg.Sink.Collection = c.String("collection")
	}
	if c.IsSet("database-url") {
		cfg.Sink.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("embedding-host") {
		cfg.Embedding.Host = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.Embedding.Model = c.String("embedding-model")
	}
	if c.IsSet("proxy") {
		cfg.Fetch.Proxy = c.String("proxy")
	}
	return cfg, nil
}

func ingestCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	var opts []prepdocs.Option
	if c.Bool("progress") {
		opts = append(opts, prepdocs.WithProgress(c.App.ErrWriter))
	}
	kb, err := prepdocs.Open(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to open: %w", err)
	}
	defer kb.Close()

	summary, err := kb.Ingest(ctx)
	if summary != nil {
		printSummary(c.App.Writer, summary)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	// Unsupported files are reported but do not fail the batch.
	if failed := summary.Failed - len(summary.ByKind(core.KindUnsupportedFormat)); failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(summary.Results))
	}
	return nil
}

func printSummary(w io.Writer, summary *ingestion.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tKIND\tUNITS\tCHUNKS\tSOURCE\tREASON")
	for _, r := range summary.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Status, r.Kind, r.Units, len(r.Chunks), r.Source.ID, r.Reason())
	}
	tw.Flush()
	fmt.Fprintln(w, summary)
}

func chunkCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one FILE is required")
	}
	src := core.NewFileSource(c.Args().First())

	dispatcher, err := extract.NewDispatcher()
	if err != nil {
		return err
	}
	format, extractor, err := dispatcher.Dispatch(src)
	if err != nil {
		return err
	}

	tokenizer, err := chunker.NewTiktoken(c.String("encoding"))
	if err != nil {
		return err
	}
	ch, err := chunker.New(tokenizer, chunker.WithMaxTokens(c.Int("max-tokens")))
	if err != nil {
		return err
	}

	content, err := os.ReadFile(src.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSource, err)
	}
	units, err := extractor.Extract(c.Context, content, src.Name)
	if err != nil {
		return err
	}
	chunks, err := ch.Chunk(units)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%s: %s, %d units, %d chunks (max %d tokens)\n",
		src.Name, format, len(units), len(chunks), ch.MaxTokens())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tUNITS\tTOKENS")
	for _, chunk := range chunks {
		first, last := chunk.Units[0].Ordinal, chunk.Units[len(chunk.Units)-1].Ordinal
		over := ""
		if chunk.Tokens > ch.MaxTokens() {
			over = " (oversized unit)"
		}
		fmt.Fprintf(tw, "%d\t%d-%d\t%d%s\n", chunk.Index+1, first, last, chunk.Tokens, over)
	}
	tw.Flush()

	if c.Bool("content") {
		for _, chunk := range chunks {
			fmt.Fprintf(w, "\n--- chunk %d ---\n%s\n", chunk.Index+1, chunk.Text())
		}
	}
	return nil
}

func openLedger(c *cli.Context) (storage.Ledger, error) {
	ledger, err := badger.OpenLedger(c.String("ledger"))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return ledger, nil
}

func ledgerListCommand(c *cli.Context) error {
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	lister, ok := ledger.(storage.Lister)
	if !ok {
		return errors.New("ledger cannot list entries")
	}
	entries, err := lister.Entries(c.Context)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIGEST\tUNITS\tCHUNKS\tCOMMITTED\tSOURCE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			e.Digest.String()[:12], e.Units, e.Chunks, e.CommittedAt.Local().Format(time.DateTime), e.SourceID)
	}
	return tw.Flush()
}

func ledgerForgetCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one SOURCE is required")
	}
	ledger, err := openLedger(c)
	if err != nil {
		return err
	}
	defer ledger.Close()

	for _, arg := range c.Args().Slice() {
		id := arg
		if !source.IsURL(arg) {
			id = core.NewFileSource(arg).ID
		}
		if err := ledger.Forget(c.Context, id); err != nil {
			return fmt.Errorf("forget %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "forgot %s\n", id)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

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
