// Package corpus holds the records passed between ingestion, the vector index and the query pipeline.
package corpus

// Chunk is one retrievable passage of a document.
// ID is the chunk's position within its document, starting at 0.
type Chunk struct {
	ID            int
	Text          string
	Embedding     []float32
	DocumentName  string
	EffectiveDate string
}

// Metadata is the provenance attached to a chunk in logs and index rows.
type Metadata struct {
	ChunkNumber   int    `json:"chunk_number"`
	DocumentName  string `json:"document_name"`
	EffectiveDate string `json:"effective_date"`
}

func (c Chunk) Metadata() Metadata {
	return Metadata{
		ChunkNumber:   c.ID,
		DocumentName:  c.DocumentName,
		EffectiveDate: c.EffectiveDate,
	}
}

// Document is a named source text with its extracted effective date and chunks.
type Document struct {
	Name          string
	Path          string
	EffectiveDate string
	Chunks        []Chunk
}

// Hit is a chunk returned by a similarity query. Lower Distance is closer.
type Hit struct {
	Chunk    Chunk
	Distance float64
}

// Chunks strips the distances from hits, keeping order.
func Chunks(hits []Hit) []Chunk {
	out := make([]Chunk, len(hits))
	for i := range hits {
		out[i] = hits[i].Chunk
	}
	return out
}
