package domain

// Document is the atomic unit of retrieval: one bounded slice of a source
// text, stored under a collection together with its embedding.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  Metadata
}

// Metadata ties a chunk back to the source it was cut from.
type Metadata struct {
	Source      string            `json:"source"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// RetrievalChannel identifies which first-pass index produced a candidate.
type RetrievalChannel string

const (
	ChannelVector  RetrievalChannel = "vector"
	ChannelKeyword RetrievalChannel = "keyword"
)

// RetrievalCandidate is a transient per-channel hit. Never persisted.
type RetrievalCandidate struct {
	Document Document
	Score    float64
	Channel  RetrievalChannel
}

// FusedCandidate merges vector and keyword hits that refer to the same
// document id into a single scored entry.
type FusedCandidate struct {
	Document     Document
	FusedScore   float64
	VectorScore  float64
	KeywordScore float64
	InVector     bool
	InKeyword    bool
}

// RankedCandidate is a reranker output, ordered descending by RerankScore.
// FusedScore is kept for tie-breaking.
type RankedCandidate struct {
	Document    Document
	RerankScore float64
	FusedScore  float64
}

// Turn is one utterance in a conversation session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AssembledContext is the token-budgeted context handed to generation.
type AssembledContext struct {
	Text         string
	UsedTokens   int
	BudgetTokens int
	DocumentIDs  []string
}

// CollectionInfo describes one stored collection.
type CollectionInfo struct {
	Name          string `json:"name"`
	OriginalName  string `json:"original_name"`
	DocumentCount int    `json:"document_count"`
	Dimension     int    `json:"dimension"`
}

// Stats holds the corpus-level numbers BM25 scoring needs.
type Stats struct {
	TotalDocs   int     `json:"total_docs"`
	AvgDocLen   float64 `json:"avg_doc_len"`
	TotalTokens int     `json:"total_tokens"`
}
