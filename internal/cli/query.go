package cli

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"ragkit/internal/usecase"
)

var (
	queryCollection string
	queryText       string
	queryTopK       int
	querySession    string
	queryStream     bool
	queryOptimize   bool
	queryJSON       bool
	queryShowDocs   bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question against a collection",
	Long: `Retrieve relevant chunks, assemble a token-budgeted context, and answer
the question with the configured model.

Examples:
  ragkit query -c docs -q "how are sessions cleared?"
  ragkit query -c docs -q "..." --session abc123 --stream
  ragkit query -c docs -q "..." --json --show-docs`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryCollection, "collection", "c", "", "collection to query (required)")
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "the question (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of documents (default from config)")
	queryCmd.Flags().StringVar(&querySession, "session", "", "session id for conversation history")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer token by token")
	queryCmd.Flags().BoolVar(&queryOptimize, "optimize", true, "run LLM query optimization if configured")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryShowDocs, "show-docs", false, "print retrieved documents")
	queryCmd.MarkFlagRequired("collection")
	queryCmd.MarkFlagRequired("query")
}

type queryOutput struct {
	Answer            string   `json:"answer"`
	Grounded          bool     `json:"grounded"`
	FallbackUsed      bool     `json:"fallback_used"`
	OptimizerDegraded bool     `json:"optimizer_degraded"`
	FinalStage        string   `json:"final_stage"`
	UsedTokens        int      `json:"used_tokens"`
	BudgetTokens      int      `json:"budget_tokens"`
	DocumentIDs       []string `json:"document_ids,omitempty"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	registry, st, err := buildRegistry(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	engine := registry.Engine(queryCollection)
	result, err := engine.Query(cmd.Context(), queryText, usecase.QueryOptions{
		SessionID:  querySession,
		TopK:       queryTopK,
		UseHistory: querySession != "",
		Optimize:   queryOptimize,
		Stream:     queryStream,
	})
	if err != nil {
		return err
	}

	if queryStream {
		for token := range result.Stream {
			fmt.Print(token)
		}
		fmt.Println()
		printFlags(result)
		return nil
	}

	if queryJSON {
		out := queryOutput{
			Answer:            result.Answer,
			Grounded:          result.Grounded,
			FallbackUsed:      result.FallbackUsed,
			OptimizerDegraded: result.OptimizerDegraded,
			FinalStage:        string(result.FinalStage),
			UsedTokens:        result.Context.UsedTokens,
			BudgetTokens:      result.Context.BudgetTokens,
			DocumentIDs:       result.Context.DocumentIDs,
		}
		data, err := sonic.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(result.Answer)
	printFlags(result)

	if queryShowDocs {
		fmt.Println()
		for i, r := range result.Ranked {
			fmt.Printf("[%d] %s (score %.4f, source %s#%d)\n", i+1, r.Document.ID,
				r.RerankScore, r.Document.Metadata.Source, r.Document.Metadata.ChunkIndex)
		}
	}
	return nil
}

// printFlags surfaces every degraded path on stderr so scripted callers can
// keep stdout clean.
func printFlags(result *usecase.QueryResult) {
	if !result.Grounded {
		fmt.Fprintln(os.Stderr, "note: answer is not grounded in the knowledge base")
	}
	if result.FallbackUsed {
		fmt.Fprintln(os.Stderr, "note: rerank fallback was used")
	}
	if result.OptimizerDegraded {
		fmt.Fprintln(os.Stderr, "note: query optimization degraded to pass-through")
	}
}
