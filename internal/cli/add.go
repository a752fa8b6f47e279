package cli

import (
	"fmt"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragkit/internal/adapter/fs"
	"ragkit/internal/usecase"
)

var (
	addCollection string
	addText       string
	addSource     string
)

var addCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Ingest documents into a collection",
	Long: `Chunk, embed, and index documents into a named collection.

Examples:
  ragkit add -c docs ./documentation        # Ingest a directory tree
  ragkit add -c docs ./README.md            # Ingest a single file
  ragkit add -c notes --text "..." --source note-1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addCollection, "collection", "c", "", "target collection (required)")
	addCmd.Flags().StringVar(&addText, "text", "", "ingest this literal text instead of a path")
	addCmd.Flags().StringVar(&addSource, "source", "", "source label for --text (default \"inline\")")
	addCmd.MarkFlagRequired("collection")
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	registry, st, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := registry.Engine(addCollection)
	ctx := cmd.Context()

	if addText != "" {
		source := addSource
		if source == "" {
			source = "inline"
		}
		result, err := engine.AddDocuments(ctx, []usecase.SourceText{{Source: source, Content: addText}})
		if err != nil {
			return err
		}
		fmt.Printf("Added %d chunks to %q\n", result.ChunksCreated, addCollection)
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("provide a path to ingest or use --text")
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	files, err := walker.Walk(root)
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if len(files) == 0 {
		fmt.Println("No matching files found")
		return nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	totalChunks := 0
	var failures []string
	for _, file := range files {
		content, err := fs.ReadText(file)
		if err != nil {
			failures = append(failures, err.Error())
			bar.Add(1)
			continue
		}
		result, err := engine.AddDocuments(ctx, []usecase.SourceText{{Source: file.Source, Content: content}})
		if err != nil {
			return fmt.Errorf("ingest %s: %w", file.Source, err)
		}
		totalChunks += result.ChunksCreated
		failures = append(failures, result.Errors...)
		bar.Add(1)
	}
	bar.Finish()

	fmt.Printf("Ingested %d files (%d chunks) into %q\n", len(files)-len(failures), totalChunks, addCollection)
	for _, f := range failures {
		fmt.Printf("  skipped: %s\n", f)
	}
	return nil
}
