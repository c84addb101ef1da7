// Package episodic implements the durable, embedding-keyed memory the agent
// loop consults every tick, backed by a pure-Go SQLite driver so the module
// stays cgo-free.
package episodic

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mechos/internal/mechtypes"
)

// ErrDimensionMismatch is returned by Store for an empty embedding and by
// RecallSimilar for an empty query vector.
var ErrDimensionMismatch = errors.New("episodic: dimension mismatch")

const schema = `
CREATE TABLE IF NOT EXISTS episodic_memories (
	id        TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	source    TEXT NOT NULL,
	summary   TEXT NOT NULL,
	embedding BLOB NOT NULL
);`

// Store is the SQLite-backed episodic memory.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the episodic_memories table exists. Failure here is fatal at
// startup per the caller's contract.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mechtypes.NewSerialization(err.Error())
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mechtypes.NewSerialization(err.Error())
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// Store persists entry, replacing any existing row with the same id.
func (s *Store) Store(ctx context.Context, entry mechtypes.MemoryEntry) error {
	if len(entry.Embedding) == 0 {
		return ErrDimensionMismatch
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	// A fixed nine-digit fraction keeps the text column in time order for
	// RecentEntries' ORDER BY; RFC3339Nano would trim trailing zeros.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO episodic_memories (id, timestamp, source, summary, embedding) VALUES (?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), entry.Source, entry.Summary, encodeEmbedding(entry.Embedding),
	)
	if err != nil {
		return mechtypes.NewSerialization(err.Error())
	}
	return nil
}

func (s *Store) allEntries(ctx context.Context) ([]mechtypes.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, source, summary, embedding FROM episodic_memories`)
	if err != nil {
		return nil, mechtypes.NewSerialization(err.Error())
	}
	defer rows.Close()

	var out []mechtypes.MemoryEntry
	for rows.Next() {
		var idStr, tsStr, source, summary string
		var blob []byte
		if err := rows.Scan(&idStr, &tsStr, &source, &summary, &blob); err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		out = append(out, mechtypes.MemoryEntry{
			ID: id, Timestamp: ts, Source: source, Summary: summary, Embedding: decodeEmbedding(blob),
		})
	}
	return out, rows.Err()
}

// RecentEntries returns the n entries with the latest timestamps, most
// recent first, for use in the agent loop's Orient step.
func (s *Store) RecentEntries(ctx context.Context, n int) ([]mechtypes.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, source, summary, embedding FROM episodic_memories ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, mechtypes.NewSerialization(err.Error())
	}
	defer rows.Close()

	var out []mechtypes.MemoryEntry
	for rows.Next() {
		var idStr, tsStr, source, summary string
		var blob []byte
		if err := rows.Scan(&idStr, &tsStr, &source, &summary, &blob); err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, mechtypes.NewSerialization(err.Error())
		}
		out = append(out, mechtypes.MemoryEntry{
			ID: id, Timestamp: ts, Source: source, Summary: summary, Embedding: decodeEmbedding(blob),
		})
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type scored struct {
	entry mechtypes.MemoryEntry
	score float64
}

// RecallSimilar ranks every stored entry sharing query's dimension by
// cosine similarity, descending, truncated to k. Entries with a mismatched
// dimension are silently skipped.
func (s *Store) RecallSimilar(ctx context.Context, query []float32, k int) ([]mechtypes.MemoryEntry, error) {
	if len(query) == 0 {
		return nil, ErrDimensionMismatch
	}

	entries, err := s.allEntries(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []scored
	for _, e := range entries {
		if len(e.Embedding) != len(query) {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: cosineSimilarity(query, e.Embedding)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]mechtypes.MemoryEntry, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].entry
	}
	return out, nil
}
