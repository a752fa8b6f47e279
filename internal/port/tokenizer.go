package port

// Tokenizer segments text into index terms and estimates generation-model
// token counts. Segmentation must handle scripts without whitespace word
// boundaries.
type Tokenizer interface {
	Tokenize(text string) []string

	CountTokens(text string) int
}
