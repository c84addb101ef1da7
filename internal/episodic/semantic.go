package episodic

import (
	"sync"

	"mechos/internal/mechtypes"
)

// SemanticTracker fuses repeated observations of a named entity into a
// decaying confidence belief. This supplements spec.md, which names
// SemanticState in its data model but specifies no operations on it; the
// behavior here follows the original runtime's semantic state estimator.
type SemanticTracker struct {
	mu     sync.Mutex
	states map[string]*mechtypes.SemanticState
}

func NewSemanticTracker() *SemanticTracker {
	return &SemanticTracker{states: make(map[string]*mechtypes.SemanticState)}
}

// Observe folds a new observation of label into its running belief: an
// online mean-embedding update weighted by obsConfidence, and a confidence
// bump capped at 1.
func (t *SemanticTracker) Observe(label string, embedding []float32, obsConfidence float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[label]
	if !ok {
		mean := make([]float32, len(embedding))
		copy(mean, embedding)
		t.states[label] = &mechtypes.SemanticState{
			Label:            label,
			MeanEmbedding:    mean,
			Confidence:       clamp01(obsConfidence),
			ObservationCount: 1,
		}
		return
	}

	c := obsConfidence
	if len(st.MeanEmbedding) == len(embedding) {
		for i := range st.MeanEmbedding {
			st.MeanEmbedding[i] = (1-c)*st.MeanEmbedding[i] + c*embedding[i]
		}
	}
	st.Confidence = clamp01(st.Confidence + obsConfidence)
	st.ObservationCount++
}

// DecayAll multiplies every tracked entity's confidence by factor, called
// once per tick by a caller that wants environmental belief to fade between
// observations.
func (t *SemanticTracker) DecayAll(factor float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, st := range t.states {
		st.Confidence = clamp01(st.Confidence * factor)
	}
}

// Query returns the current belief for label, if any has been observed.
func (t *SemanticTracker) Query(label string) (mechtypes.SemanticState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[label]
	if !ok {
		return mechtypes.SemanticState{}, false
	}
	return *st, true
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
