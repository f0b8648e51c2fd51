package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DocumentSummary describes one document node of a collection.
type DocumentSummary struct {
	Name          string
	EffectiveDate string
	ChunkCount    int
}

// Summarize lists the documents mirrored for collection, sorted by name.
func (g *Graph) Summarize(ctx context.Context, collection string) ([]DocumentSummary, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (:Collection {name: $collection})-[:CONTAINS]->(d:Document)
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(ch:Chunk)
		RETURN d.name AS name, d.effective_date AS effectiveDate, count(ch) AS chunkCount
	`, map[string]any{"collection": collection})
	if err != nil {
		return nil, fmt.Errorf("run neo4j summary query: %w", err)
	}

	var docs []DocumentSummary
	for result.Next(ctx) {
		record := result.Record()
		name, _ := record.Get("name")
		date, _ := record.Get("effectiveDate")
		count, _ := record.Get("chunkCount")

		summary := DocumentSummary{}
		summary.Name, _ = name.(string)
		summary.EffectiveDate, _ = date.(string)
		summary.ChunkCount, _ = toInt(count)
		if summary.Name == "" {
			continue
		}
		docs = append(docs, summary)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j summary result error: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
