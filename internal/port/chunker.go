package port

// Chunker splits raw text into an ordered sequence of overlapping windows.
type Chunker interface {
	Chunk(text string) ([]string, error)
}
