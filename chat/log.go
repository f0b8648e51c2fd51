package chat

import "github.com/fabfab/policy-rag/corpus"

// RetrievedDoc is a passage that was placed in the prompt.
type RetrievedDoc struct {
	Metadata corpus.Metadata `json:"metadata"`
	Text     string          `json:"text"`
}

// LogEntry records one answered turn. The caller decides whether and where to persist it.
type LogEntry struct {
	Prompt        string         `json:"prompt"`
	Language      string         `json:"language"`
	UserQuery     string         `json:"user_query"`
	Response      string         `json:"response"`
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs"`
	ChatHistory   []string       `json:"chat_history"`
}

func retrievedDocs(chunks []corpus.Chunk) []RetrievedDoc {
	docs := make([]RetrievedDoc, len(chunks))
	for i, ch := range chunks {
		docs[i] = RetrievedDoc{Metadata: ch.Metadata(), Text: ch.Text}
	}
	return docs
}
