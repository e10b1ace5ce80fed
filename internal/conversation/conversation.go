// Package conversation keeps a bounded in-memory log of exchanges and
// mirrors every entry into the vector store so past conversations can
// be recalled semantically.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/vectorstore"
)

// Collection is the vector store collection entries are mirrored to.
const Collection = "conversations"

const defaultCapacity = 1024

// ErrEmptyContent rejects blank entries.
var ErrEmptyContent = errors.New("conversation: empty content")

// Entry is one logged exchange.
type Entry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is an append-only bounded conversation history. When the ring is
// full the oldest entry falls off; the vector store keeps the full
// history for recall.
type Log struct {
	store *vectorstore.Store
	log   *logging.Logger

	mu       sync.Mutex
	ring     []Entry
	head     int
	size     int
	capacity int
}

// NewLog builds a log with the given ring capacity. A nil store
// disables recall but keeps the ring working.
func NewLog(capacity int, store *vectorstore.Store, log *logging.Logger) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{
		store:    store,
		log:      log.Named("conversation"),
		ring:     make([]Entry, capacity),
		capacity: capacity,
	}
}

// Append records an exchange and returns the stored entry. Vector
// store failures are logged, not returned; the in-memory log is the
// source of truth for recent history.
func (l *Log) Append(ctx context.Context, agentID, role, content string) (Entry, error) {
	if strings.TrimSpace(content) == "" {
		return Entry{}, ErrEmptyContent
	}

	entry := Entry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		AgentID:   agentID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	l.ring[(l.head+l.size)%l.capacity] = entry
	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity
	}
	l.mu.Unlock()

	if l.store != nil {
		doc := vectorstore.Document{
			ID:      entry.ID,
			Content: entry.Content,
			Metadata: map[string]string{
				"agent_id":   entry.AgentID,
				"role":       entry.Role,
				"created_at": entry.CreatedAt.Format(time.RFC3339),
			},
		}
		if err := l.store.Add(ctx, Collection, []vectorstore.Document{doc}); err != nil {
			l.log.Warn(ctx, "mirroring entry to vector store failed", zap.Error(err))
		}
	}
	return entry, nil
}

// Recent returns up to n entries, newest last.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, n)
	start := l.size - n
	for i := 0; i < n; i++ {
		out[i] = l.ring[(l.head+start+i)%l.capacity]
	}
	return out
}

// Len returns how many entries the ring currently holds.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Recall searches the full history semantically.
func (l *Log) Recall(ctx context.Context, query string, k int) ([]vectorstore.Result, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Search(ctx, Collection, query, k)
}
