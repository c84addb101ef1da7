package mechtypes

import (
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is a durable episodic memory row. Embedding must be non-empty;
// entries recalled together are expected to share one dimension, or are
// skipped by the caller.
type MemoryEntry struct {
	ID        uuid.UUID
	Timestamp time.Time
	Source    string
	Summary   string
	Embedding []float32
}

// SemanticState is a per-entity belief accumulated from repeated
// observations of a named entity (e.g. a recognized object or landmark).
type SemanticState struct {
	Label            string
	MeanEmbedding    []float32
	Confidence       float32
	ObservationCount int
}
