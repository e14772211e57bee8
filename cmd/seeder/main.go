package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/kbase"
	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/core"
)

// seedDocs is the built-in corpus used when no source file is given.
var seedDocs = map[string]string{
	"lsm-trees.txt": strings.Join([]string{
		"Log-structured merge trees buffer writes in memory before flushing them to sorted files on disk.",
		"Compaction merges overlapping sorted files and discards overwritten versions.",
		"Read amplification grows with the number of levels a lookup has to consult.",
		"Bloom filters let a lookup skip files that cannot contain the key.",
	}, " "),
	"value-logs.txt": strings.Join([]string{
		"Separating keys from values keeps the tree small when values are large.",
		"The value log is append-only and garbage collected in the background.",
		"Crash recovery replays the value log head to rebuild the latest state.",
	}, " "),
	"transactions.txt": strings.Join([]string{
		"Serializable snapshot isolation detects conflicts at commit time.",
		"A transaction reads from a consistent snapshot taken at its start timestamp.",
		"Write conflicts abort the younger transaction, which can simply retry.",
	}, " "),
}

var (
	dbPath         = flag.String("db", "./kbase_db", "path to the database directory")
	seedFileName   = flag.String("src", "", "file to ingest instead of the built-in corpus")
	projectID      = flag.Uint64("project", 1, "project to seed")
	embeddingHost  = flag.String("embedding-host", "http://localhost:11434/v1", "embedding service host URL")
	embeddingModel = flag.String("embedding-model", "embeddinggemma", "embedding model name")
)

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
	flag.Parse()
}

func main() {
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(*embeddingHost),
		ai.WithEmbeddingModel(*embeddingModel),
	)
	db, err := kbase.NewDatabase(*dbPath, kbase.WithAIConfig(cfg))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx := context.Background()
	project := core.ID(*projectID)

	kb, err := db.CreateKnowledgeBase(ctx, project, "seed-docs")
	if err != nil {
		panic(err)
	}

	o, err := db.NewOrchestrator()
	if err != nil {
		panic(err)
	}
	defer o.Release()

	docs := seedDocs
	if *seedFileName != "" {
		data, err := os.ReadFile(*seedFileName)
		if err != nil {
			panic(err)
		}
		docs = map[string]string{filepath.Base(*seedFileName): string(data)}
	}

	for name, content := range docs {
		task, err := o.Submit(ctx, kb.Id, name, []byte(content))
		if err != nil {
			panic(err)
		}
		slog.Info("submitted", "file", name, "task", task.Id)
	}
	o.Wait()

	// A few QA pairs alongside the documents.
	s, err := db.NewQAStore()
	if err != nil {
		panic(err)
	}
	pairs := [][2]string{
		{"What does compaction do?", "It merges overlapping sorted files and drops overwritten versions."},
		{"Why separate keys from values?", "Large values stay out of the tree, keeping it small and cache-friendly."},
	}
	for _, p := range pairs {
		if _, err := s.Add(ctx, project, p[0], p[1]); err != nil {
			panic(err)
		}
	}

	infos, err := db.ListKnowledgeBases(ctx, project)
	if err != nil {
		panic(err)
	}
	for _, info := range infos {
		fmt.Printf("kb %d (%s): %d documents, %d chunks\n", info.Id, info.Name, info.DocumentCount, info.ChunkCount)
	}
}
