// Package index stores diff metadata plus an embedding vector per
// change and answers nearest-neighbor text searches over them.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chisel/internal/errors"
	"chisel/internal/provider"
	shared "chisel/shared/types"
	"chisel/shared/utils"
)

const (
	entryPrefix   = "diff:"
	maxEmbedChars = 8000
)

// Match is one search hit.
type Match struct {
	Entry shared.DiffEntry `json:"entry"`
	Score float64          `json:"score"`
}

// Index is an append-only store of DiffEntry records. Entries are
// never mutated or deleted here; newer entries for the same path
// supersede older ones only by ranking.
type Index struct {
	db       *badger.DB
	embedder provider.Embedder
	logger   *zap.Logger
}

// NewIndex creates an index over db using embedder for vectors.
func NewIndex(db *badger.DB, embedder provider.Embedder, logger *zap.Logger) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Index{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// Add appends an entry, computing its embedding unless one was
// provided. When the embedding backend is unavailable the entry is
// stored with a nil embedding: excluded from search, retained for
// audit.
func (ix *Index) Add(ctx context.Context, entry *shared.DiffEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if entry.Embedding == nil {
		// Embedding models cap input length; a truncated summary still
		// embeds the salient part of the change.
		vec, err := ix.embedder.Embed(ctx, utils.Truncate(entry.DiffSummary, maxEmbedChars))
		if err != nil {
			ix.logger.Warn("embedding unavailable, storing entry without vector",
				zap.String("id", entry.ID),
				zap.String("path", entry.Path),
				zap.Error(err))
		} else {
			entry.Embedding = vec
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	key := []byte(entryPrefix + entry.ID)
	return ix.db.Update(func(txn *badger.Txn) error {
		// Append-only: an existing id is never overwritten.
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("entry already exists: %s", entry.ID)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, data)
	})
}

// Search embeds the query and returns up to maxResults entries ranked
// by cosine similarity, descending, newest-first on ties. Entries
// without embeddings are skipped, never an error.
func (ix *Index) Search(ctx context.Context, query string, maxResults int) ([]Match, error) {
	if query == "" {
		return nil, errors.Validation("search query cannot be empty", nil)
	}
	if maxResults <= 0 {
		return nil, errors.Validation("maxResults must be positive", maxResults)
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Provider("embedding search query", err)
	}

	entries, err := ix.List()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		score, ok := cosine(queryVec, entry.Embedding)
		if !ok {
			continue // dimension mismatch, likely indexed by another model
		}
		matches = append(matches, Match{Entry: entry, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.Timestamp.After(matches[j].Entry.Timestamp)
	})

	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

// List returns every stored entry, embedded or not.
func (ix *Index) List() ([]shared.DiffEntry, error) {
	var entries []shared.DiffEntry

	err := ix.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry shared.DiffEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	return entries, nil
}

// cosine computes cosine similarity; ok is false when the vectors
// cannot be compared.
func cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
