package collective

import (
	"math"
	"sort"
)

const (
	defaultMinSuccessRate = 0.5
	defaultMaxPerType     = 10
)

// Strategy is one learned approach to a task type.
type Strategy struct {
	ID          string
	TaskType    string
	AuthorID    string
	Description string
	SuccessRate float64
	Embedding   []float64
	Tags        []string
	IsLocal     bool
}

// ScoredStrategy pairs a Strategy with a query-specific relevance score.
type ScoredStrategy struct {
	Strategy  Strategy
	Relevance float64
}

// LearningFabric holds local (self-authored) and peer (imported)
// strategy stores, indexed by task_type.
type LearningFabric struct {
	local map[string][]Strategy // task_type -> strategies
	peer  map[string][]Strategy
	seen  map[string]bool // strategy id -> already recorded (local or imported)
}

// NewLearningFabric constructs an empty fabric.
func NewLearningFabric() *LearningFabric {
	return &LearningFabric{
		local: make(map[string][]Strategy),
		peer:  make(map[string][]Strategy),
		seen:  make(map[string]bool),
	}
}

// AddLocalStrategy records a strategy authored by this agent.
func (f *LearningFabric) AddLocalStrategy(s Strategy) {
	s.IsLocal = true
	f.local[s.TaskType] = append(f.local[s.TaskType], s)
	f.seen[s.ID] = true
}

// ImportStrategy records a peer-authored strategy. Importing a strategy
// that was authored locally is a no-op.
func (f *LearningFabric) ImportStrategy(s Strategy) {
	if f.seen[s.ID] {
		return
	}
	s.IsLocal = false
	f.peer[s.TaskType] = append(f.peer[s.TaskType], s)
	f.seen[s.ID] = true
}

func (f *LearningFabric) all(taskType string) []Strategy {
	out := append([]Strategy(nil), f.local[taskType]...)
	out = append(out, f.peer[taskType]...)
	return out
}

// QueryByType returns strategies of the given type with success_rate ≥
// minSuccessRate (default 0.5), sorted by success rate descending.
func (f *LearningFabric) QueryByType(taskType string, minSuccessRate float64) []Strategy {
	if minSuccessRate <= 0 {
		minSuccessRate = defaultMinSuccessRate
	}
	var out []Strategy
	for _, s := range f.all(taskType) {
		if s.SuccessRate >= minSuccessRate {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}

// QueryByEmbedding ranks strategies across every task type by cosine
// similarity to v, filtered to similarity ≥ threshold; relevance =
// similarity · success_rate.
func (f *LearningFabric) QueryByEmbedding(v []float64, threshold float64) []ScoredStrategy {
	var out []ScoredStrategy
	for _, store := range []map[string][]Strategy{f.local, f.peer} {
		for _, strategies := range store {
			for _, s := range strategies {
				sim := cosineSimilarity(v, s.Embedding)
				if sim >= threshold {
					out = append(out, ScoredStrategy{Strategy: s, Relevance: sim * s.SuccessRate})
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// QueryByTags ranks strategies by tag overlap: relevance = (|tags ∩
// strategy.tags| / |tags|) · success_rate.
func (f *LearningFabric) QueryByTags(tags []string) []ScoredStrategy {
	if len(tags) == 0 {
		return nil
	}
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	var out []ScoredStrategy
	for _, store := range []map[string][]Strategy{f.local, f.peer} {
		for _, strategies := range store {
			for _, s := range strategies {
				overlap := 0
				for _, t := range s.Tags {
					if tagSet[t] {
						overlap++
					}
				}
				if overlap == 0 {
					continue
				}
				relevance := (float64(overlap) / float64(len(tags))) * s.SuccessRate
				out = append(out, ScoredStrategy{Strategy: s, Relevance: relevance})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// Cleanup retains the top maxPerType (default 10) strategies by success
// rate per task_type. Among equal success rates, peer entries are
// evicted before local ones.
func (f *LearningFabric) Cleanup(maxPerType int) {
	if maxPerType <= 0 {
		maxPerType = defaultMaxPerType
	}

	taskTypes := make(map[string]bool)
	for t := range f.local {
		taskTypes[t] = true
	}
	for t := range f.peer {
		taskTypes[t] = true
	}

	for taskType := range taskTypes {
		combined := f.all(taskType)
		if len(combined) <= maxPerType {
			continue
		}
		sort.SliceStable(combined, func(i, j int) bool {
			if combined[i].SuccessRate != combined[j].SuccessRate {
				return combined[i].SuccessRate > combined[j].SuccessRate
			}
			// tie-break: prefer keeping local over peer when scores are equal
			return combined[i].IsLocal && !combined[j].IsLocal
		})
		kept := combined[:maxPerType]

		var newLocal, newPeer []Strategy
		for _, s := range kept {
			if s.IsLocal {
				newLocal = append(newLocal, s)
			} else {
				newPeer = append(newPeer, s)
			}
		}
		f.local[taskType] = newLocal
		f.peer[taskType] = newPeer
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
