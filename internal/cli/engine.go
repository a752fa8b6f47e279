package cli

import (
	"fmt"
	"os"
	"time"

	"ragkit/config"
	"ragkit/internal/adapter/analyzer"
	"ragkit/internal/adapter/chunker"
	"ragkit/internal/adapter/embedding"
	"ragkit/internal/adapter/fs"
	"ragkit/internal/adapter/llm"
	"ragkit/internal/adapter/retriever"
	"ragkit/internal/adapter/store"
	"ragkit/internal/port"
	"ragkit/internal/usecase"
)

// buildRegistry wires the full pipeline from configuration. The returned
// store must be closed by the caller.
func buildRegistry(cfg *config.Config) (*usecase.Registry, *store.Store, error) {
	if err := config.EnsureStoreDir(cfg.Store.Path); err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	tokenizer := analyzer.NewTokenizer(true)

	ch, err := chunker.NewWindowChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	embedder, err := buildEmbedder(cfg, tokenizer)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	chat, err := llm.New(llm.Options{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	vector := retriever.NewVectorRetriever(st, embedder)
	keyword := retriever.NewKeywordRetriever(st, tokenizer, cfg.Retrieval.K1, cfg.Retrieval.B)
	hybrid := retriever.NewHybridRetriever(vector, keyword, cfg.Retrieval.VectorWeight)

	var rerank *retriever.RerankStage
	if cfg.Rerank.Enabled {
		remote, err := retriever.NewRemoteReranker(retriever.RemoteRerankerOptions{
			BaseURL:    cfg.Rerank.BaseURL,
			APIKey:     os.Getenv(cfg.Rerank.APIKeyEnv),
			Model:      cfg.Rerank.Model,
			MaxRetries: cfg.Rerank.MaxRetries,
			Timeout:    time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		rerank = retriever.NewRerankStage(remote, retriever.NewLexicalReranker(tokenizer))
	}

	var optimizer *retriever.QueryOptimizer
	if cfg.Optimizer.Enabled {
		optimizer, err = retriever.NewQueryOptimizer(chat, retriever.OptimizerOptions{
			EnableRevise:  cfg.Optimizer.Revise,
			EnableRewrite: cfg.Optimizer.Rewrite,
			EnableExpand:  cfg.Optimizer.Expand,
			MaxSubqueries: cfg.Optimizer.MaxSubqueries,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
	}

	assembler, err := usecase.NewAssembler(st, tokenizer, usecase.AssemblerOptions{
		BudgetTokens:    cfg.Context.BudgetTokens,
		Separator:       cfg.Context.Separator,
		ExpandNeighbors: cfg.Context.ExpandNeighbors,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	walker := fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes)
	ingest := usecase.NewIngestUseCase(st, ch, embedder, keyword, walker)
	sessions := usecase.NewSessionStore(cfg.Session.MaxTurns)

	registry, err := usecase.NewRegistry(usecase.Deps{
		Store:     st,
		Ingest:    ingest,
		Vector:    vector,
		Keyword:   keyword,
		Hybrid:    hybrid,
		Optimizer: optimizer,
		Rerank:    rerank,
		Assembler: assembler,
		LLM:       chat,
		Sessions:  sessions,
	}, usecase.EngineConfig{
		Mode:           usecase.RetrievalMode(cfg.Retrieval.Mode),
		TopK:           cfg.Retrieval.TopK,
		MinScore:       cfg.Retrieval.MinScore,
		EnableOptimize: cfg.Optimizer.Enabled,
		EnableRerank:   cfg.Rerank.Enabled,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return registry, st, nil
}

func buildEmbedder(cfg *config.Config, tokenizer port.Tokenizer) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "local", "":
		return embedding.NewLocalEmbedder(cfg.Embedding.Dimension, tokenizer)
	case "remote":
		remote, err := embedding.NewRemoteEmbedder(embedding.RemoteOptions{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     os.Getenv(cfg.Embedding.APIKeyEnv),
			Model:      cfg.Embedding.Model,
			Dimension:  cfg.Embedding.Dimension,
			BatchSize:  cfg.Embedding.BatchSize,
			MaxRetries: cfg.Embedding.MaxRetries,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return embedding.NewCachedEmbedder(remote, cfg.Embedding.CacheSize), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
