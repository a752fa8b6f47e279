package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ragkit/internal/domain"
)

var (
	docsCollection string
	docsLimit      int
	docsOffset     int
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect and delete stored document chunks",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a collection's chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		docs, err := registry.Engine(docsCollection).ListDocuments(docsLimit, docsOffset)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s  %s#%d  %q\n", doc.ID, doc.Metadata.Source, doc.Metadata.ChunkIndex, preview(doc.Content, 60))
		}
		return nil
	},
}

var docsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one chunk in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		doc, err := registry.Engine(docsCollection).GetDocument(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:     %s\n", doc.ID)
		fmt.Printf("Source: %s (chunk %d of %d)\n", doc.Metadata.Source, doc.Metadata.ChunkIndex+1, doc.Metadata.TotalChunks)
		fmt.Println()
		fmt.Println(doc.Content)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete chunks by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, st, err := buildRegistry(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()

		success, failed, err := registry.Engine(docsCollection).DeleteDocuments(args)
		var partial *domain.PartialBatchError
		if err != nil && !errors.As(err, &partial) {
			return err
		}
		fmt.Printf("Deleted %d chunks\n", success)
		for _, id := range failed {
			fmt.Printf("  not found: %s\n", id)
		}
		return nil
	},
}

// preview truncates content to max runes, never splitting a multi-byte
// character.
func preview(content string, max int) string {
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.PersistentFlags().StringVarP(&docsCollection, "collection", "c", "", "collection (required)")
	docsCmd.MarkPersistentFlagRequired("collection")
	docsListCmd.Flags().IntVar(&docsLimit, "limit", 20, "maximum chunks to list")
	docsListCmd.Flags().IntVar(&docsOffset, "offset", 0, "listing offset")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsGetCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}
