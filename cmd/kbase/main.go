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
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/kbase"
	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/core"
)

func main() {
	dbFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
	}

	app := &cli.App{
		Name:   "kbase",
		Usage:  "Project-scoped knowledge base with hybrid retrieval",
		Before: setupLogger,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest a file into a knowledge base",
				ArgsUsage: "FILE",
				Action:    ingestCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "kb", Usage: "Knowledge base ID", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "status",
				Usage:  "Show the state of an ingestion task",
				Action: statusCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "task", Usage: "Task ID", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "create-kb",
				Usage:  "Create a knowledge base in a project",
				Action: createKBCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID", Required: true},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Knowledge base name", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "kbs",
				Usage:  "List a project's knowledge bases",
				Action: listKBsCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "delete-kb",
				Usage:  "Soft-delete a knowledge base with its documents and chunks",
				Action: deleteKBCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "kb", Usage: "Knowledge base ID", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "restore-kb",
				Usage:  "Restore a soft-deleted knowledge base",
				Action: restoreKBCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "kb", Usage: "Knowledge base ID", Required: true},
				}, dbFlags...),
			},
			{
				Name:      "search",
				Usage:     "Run a hybrid query against a knowledge base",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "kb", Usage: "Knowledge base ID", Required: true},
					&cli.IntFlag{Name: "dense", Usage: "Dense candidate count", Value: 10},
					&cli.IntFlag{Name: "lexical", Usage: "Lexical candidate count", Value: 10},
				}, dbFlags...),
			},
			{
				Name:   "qa-add",
				Usage:  "Add a question/answer pair to a project",
				Action: qaAddCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID", Required: true},
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "Question text", Required: true},
					&cli.StringFlag{Name: "answer", Aliases: []string{"a"}, Usage: "Answer text", Required: true},
				}, dbFlags...),
			},
			{
				Name:   "qa-update",
				Usage:  "Update a question/answer pair (empty fields keep stored values)",
				Action: qaUpdateCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "id", Usage: "QA item ID", Required: true},
					&cli.StringFlag{Name: "question", Aliases: []string{"q"}, Usage: "New question text"},
					&cli.StringFlag{Name: "answer", Aliases: []string{"a"}, Usage: "New answer text"},
				}, dbFlags...),
			},
			{
				Name:   "qa-list",
				Usage:  "List a project's question/answer pairs",
				Action: qaListCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64Flag{Name: "project", Aliases: []string{"p"}, Usage: "Project ID", Required: true},
					&cli.IntFlag{Name: "page", Usage: "Page number (1-based)", Value: 1},
					&cli.IntFlag{Name: "page-size", Usage: "Items per page", Value: 20},
				}, dbFlags...),
			},
			{
				Name:   "recover",
				Usage:  "Mark ingestion tasks orphaned by a crash as failed",
				Action: recoverCommand,
				Flags:  dbFlags,
			},
			{
				Name:   "qa-delete",
				Usage:  "Delete question/answer pairs",
				Action: qaDeleteCommand,
				Flags: append([]cli.Flag{
					&cli.Uint64SliceFlag{Name: "id", Usage: "QA item ID (repeatable)", Required: true},
				}, dbFlags...),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openDatabase(c *cli.Context) (*kbase.Database, error) {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
	)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	db, err := kbase.NewDatabase(c.String("db"), kbase.WithAIConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one file argument")
	}
	path := c.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	o, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	defer o.Release()

	task, err := o.Submit(context.Background(), core.ID(c.Uint64("kb")), filepath.Base(path), data)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	o.Wait()

	done, err := db.TaskStatus(context.Background(), task.Id)
	if err != nil {
		return err
	}
	printTask(done)
	return nil
}

func statusCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.TaskStatus(context.Background(), core.ID(c.Uint64("task")))
	if err != nil {
		return err
	}
	printTask(task)
	return nil
}

func printTask(task *core.IngestionTask) {
	fmt.Printf("task %d: %s\n", task.Id, task.State)
	if task.ErrorDetail != "" {
		fmt.Printf("  %s\n", task.ErrorDetail)
	}
}

func createKBCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	kb, err := db.CreateKnowledgeBase(context.Background(), core.ID(c.Uint64("project")), c.String("name"))
	if err != nil {
		return err
	}
	fmt.Printf("created knowledge base %d: %s\n", kb.Id, kb.Name)
	return nil
}

func listKBsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.ListKnowledgeBases(context.Background(), core.ID(c.Uint64("project")))
	if err != nil {
		return err
	}

	for _, info := range infos {
		state := "-"
		if info.LastTask != nil {
			state = info.LastTask.State.String()
		}
		kind := ""
		if info.QAOnly {
			kind = " [qa]"
		}
		fmt.Printf("%d\t%s%s\t%d documents\t%d chunks\tlast task: %s\n",
			info.Id, info.Name, kind, info.DocumentCount, info.ChunkCount, state)
	}
	return nil
}

func deleteKBCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id := core.ID(c.Uint64("kb"))
	if err := db.DeleteKnowledgeBase(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("deleted knowledge base %d\n", id)
	return nil
}

func restoreKBCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	id := core.ID(c.Uint64("kb"))
	if err := db.RestoreKnowledgeBase(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("restored knowledge base %d\n", id)
	return nil
}

func recoverCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	// Orphan recovery runs when the orchestrator starts.
	o, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	o.Release()

	fmt.Println("orphaned tasks marked failed")
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one query argument")
	}

	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := db.NewRetriever()
	if err != nil {
		return err
	}

	result, err := r.Retrieve(context.Background(), core.ID(c.Uint64("kb")), c.Args().First(), c.Int("dense"), c.Int("lexical"))
	if err != nil {
		return err
	}

	for i, sc := range result.Merged {
		fmt.Printf("%d. [%.4f] chunk %d (document %d)\n", i+1, sc.Score, sc.Chunk.Id, sc.Chunk.DocumentId)
		fmt.Printf("   %s\n", firstLine(sc.Chunk.Text))
	}
	return nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func qaAddCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.NewQAStore()
	if err != nil {
		return err
	}

	item, err := s.Add(context.Background(), core.ID(c.Uint64("project")), c.String("question"), c.String("answer"))
	if err != nil {
		return err
	}
	fmt.Printf("added QA pair %d\n", item.Id)
	return nil
}

func qaUpdateCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.NewQAStore()
	if err != nil {
		return err
	}

	item, err := s.Update(context.Background(), core.ID(c.Uint64("id")), c.String("question"), c.String("answer"))
	if err != nil {
		return err
	}
	fmt.Printf("updated QA pair %d\n", item.Id)
	return nil
}

func qaListCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.NewQAStore()
	if err != nil {
		return err
	}

	items, total, err := s.List(context.Background(), core.ID(c.Uint64("project")), c.Int("page"), c.Int("page-size"))
	if err != nil {
		return err
	}

	for _, item := range items {
		fmt.Printf("%d\tQ: %s\n\tA: %s\n", item.Id, item.Question, item.Answer)
	}
	fmt.Printf("%d of %d total\n", len(items), total)
	return nil
}

func qaDeleteCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.NewQAStore()
	if err != nil {
		return err
	}

	raw := c.Uint64Slice("id")
	ids := make([]core.ID, len(raw))
	for i, v := range raw {
		ids[i] = core.ID(v)
	}

	deleted, err := s.Delete(context.Background(), ids...)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d of %d QA pairs\n", deleted, len(ids))
	return nil
}

func setupLogger(c *cli.Context) error {
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
