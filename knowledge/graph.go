// Package knowledge mirrors ingested collections into Neo4j as a provenance graph:
// (:Collection)-[:CONTAINS]->(:Document)-[:HAS_CHUNK]->(:Chunk), with dated documents
// linked to a shared (:RevisionDate) node.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/policy-rag/corpus"
)

type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncCollection replaces the collection's subgraph with docs in a single write transaction.
func (g *Graph) SyncCollection(ctx context.Context, collection string, docs []corpus.Document) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (c:Collection {name: $collection})
			SET c.updated_at = datetime()
		`, map[string]any{"collection": collection}); err != nil {
			return nil, fmt.Errorf("upsert collection node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (:Collection {name: $collection})-[:CONTAINS]->(d:Document)
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(ch:Chunk)
			DETACH DELETE ch, d
		`, map[string]any{"collection": collection}); err != nil {
			return nil, fmt.Errorf("clear previous documents: %w", err)
		}

		for _, doc := range docs {
			chunks := make([]map[string]any, len(doc.Chunks))
			for i, ch := range doc.Chunks {
				chunks[i] = map[string]any{"number": ch.ID, "text": ch.Text}
			}

			if _, err := tx.Run(ctx, `
				MATCH (c:Collection {name: $collection})
				CREATE (d:Document {collection: $collection, name: $name, path: $path, effective_date: $date})
				CREATE (c)-[:CONTAINS]->(d)
				WITH d
				UNWIND $chunks AS chunk
				CREATE (ch:Chunk {collection: $collection, document: $name, number: chunk.number, text: chunk.text})
				CREATE (d)-[:HAS_CHUNK {order: chunk.number}]->(ch)
			`, map[string]any{
				"collection": collection,
				"name":       doc.Name,
				"path":       doc.Path,
				"date":       doc.EffectiveDate,
				"chunks":     chunks,
			}); err != nil {
				return nil, fmt.Errorf("create document %s: %w", doc.Name, err)
			}

			if doc.EffectiveDate == "" {
				continue
			}
			if _, err := tx.Run(ctx, `
				MATCH (:Collection {name: $collection})-[:CONTAINS]->(d:Document {name: $name})
				MERGE (r:RevisionDate {value: $date})
				MERGE (d)-[:REVISED_ON]->(r)
			`, map[string]any{
				"collection": collection,
				"name":       doc.Name,
				"date":       doc.EffectiveDate,
			}); err != nil {
				return nil, fmt.Errorf("link revision date for %s: %w", doc.Name, err)
			}
		}

		return nil, pruneRevisionDates(ctx, tx)
	})

	return err
}

// Purge removes the collection and everything it contains.
func (g *Graph) Purge(ctx context.Context, collection string) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (c:Collection {name: $collection})
			OPTIONAL MATCH (c)-[:CONTAINS]->(d:Document)
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(ch:Chunk)
			DETACH DELETE ch, d, c
		`, map[string]any{"collection": collection}); err != nil {
			return nil, fmt.Errorf("delete collection subgraph: %w", err)
		}
		return nil, pruneRevisionDates(ctx, tx)
	})
	return err
}

func pruneRevisionDates(ctx context.Context, tx neo4j.ManagedTransaction) error {
	if _, err := tx.Run(ctx, `
		MATCH (r:RevisionDate)
		WHERE NOT (r)<-[:REVISED_ON]-(:Document)
		DELETE r
	`, nil); err != nil {
		return fmt.Errorf("prune revision dates: %w", err)
	}
	return nil
}
