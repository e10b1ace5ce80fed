// Package vectorstore wraps an embedded chromem database behind a
// small add/search API used for conversation recall and audit finding
// history. Embeddings come from an OpenAI-compatible endpoint when one
// is configured, otherwise from a deterministic local function so the
// store works air-gapped and in tests.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// Document is one entry to embed and store.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is one search hit.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Store is an embedded vector database.
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	log   *logging.Logger
}

// Open creates or loads the persistent store at the configured path.
func Open(cfg config.VectorStoreConfig, log *logging.Logger) (*Store, error) {
	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("vectorstore: creating %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: opening %s: %w", path, err)
	}

	var embed chromem.EmbeddingFunc
	if cfg.EmbeddingBaseURL != "" {
		embed = chromem.NewEmbeddingFuncOpenAICompat(
			cfg.EmbeddingBaseURL,
			cfg.EmbeddingAPIKey.Value(),
			cfg.EmbeddingModel,
			nil,
		)
	} else {
		embed = localEmbeddingFunc()
	}

	return &Store{db: db, embed: embed, log: log.Named("vectorstore")}, nil
}

// OpenInMemory returns a store with no persistence, for tests.
func OpenInMemory(log *logging.Logger) *Store {
	return &Store{
		db:    chromem.NewDB(),
		embed: localEmbeddingFunc(),
		log:   log.Named("vectorstore"),
	}
}

// Add embeds and stores documents in a collection.
func (s *Store) Add(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embed)
	if err != nil {
		return fmt.Errorf("vectorstore: collection %s: %w", collection, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("vectorstore: document %d has no id", i)
		}
		chromemDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("vectorstore: adding to %s: %w", collection, err)
	}

	s.log.Debug(ctx, "documents stored",
		zap.String("collection", collection), zap.Int("count", len(docs)))
	return nil
}

// Search returns up to k documents from a collection ranked by
// similarity to the query. A missing or empty collection returns no
// results, not an error.
func (s *Store) Search(ctx context.Context, collection, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 5
	}

	col := s.db.GetCollection(collection, s.embed)
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults above the document count.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	hits, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: querying %s: %w", collection, err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ID:         h.ID,
			Content:    h.Content,
			Similarity: h.Similarity,
			Metadata:   h.Metadata,
		}
	}
	return results, nil
}

// Count returns how many documents a collection holds.
func (s *Store) Count(collection string) int {
	col := s.db.GetCollection(collection, s.embed)
	if col == nil {
		return 0
	}
	return col.Count()
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vectorstore: resolving home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
