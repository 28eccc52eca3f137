package collective

import "testing"

func TestAddLocalStrategyMarksLocal(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "s1", TaskType: "summarize", SuccessRate: 0.8})
	results := f.QueryByType("summarize", 0)
	if len(results) != 1 || !results[0].IsLocal {
		t.Fatalf("expected local strategy marked local, got %+v", results)
	}
}

func TestImportStrategyIgnoresAlreadySeen(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "s1", TaskType: "summarize", SuccessRate: 0.8})
	f.ImportStrategy(Strategy{ID: "s1", TaskType: "summarize", SuccessRate: 0.1})

	results := f.QueryByType("summarize", 0)
	if len(results) != 1 || results[0].SuccessRate != 0.8 {
		t.Fatalf("expected re-import of known id to be a no-op, got %+v", results)
	}
}

func TestQueryByTypeFiltersBySuccessRate(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "good", TaskType: "t", SuccessRate: 0.9})
	f.AddLocalStrategy(Strategy{ID: "bad", TaskType: "t", SuccessRate: 0.2})

	results := f.QueryByType("t", 0.5)
	if len(results) != 1 || results[0].ID != "good" {
		t.Fatalf("expected only strategy above threshold, got %+v", results)
	}
}

func TestQueryByEmbeddingRanksBySimilarityTimesSuccess(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "close", TaskType: "t", SuccessRate: 1.0, Embedding: []float64{1, 0}})
	f.AddLocalStrategy(Strategy{ID: "far", TaskType: "t", SuccessRate: 1.0, Embedding: []float64{0, 1}})

	results := f.QueryByEmbedding([]float64{1, 0}, 0.1)
	if len(results) != 1 || results[0].Strategy.ID != "close" {
		t.Fatalf("expected only the aligned embedding to pass threshold, got %+v", results)
	}
}

func TestQueryByTagsScoresOverlapRatio(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "s1", TaskType: "t", SuccessRate: 1.0, Tags: []string{"a", "b"}})
	f.AddLocalStrategy(Strategy{ID: "s2", TaskType: "t", SuccessRate: 1.0, Tags: []string{"a", "c", "d"}})

	results := f.QueryByTags([]string{"a", "b"})
	if len(results) != 2 {
		t.Fatalf("expected both strategies to match, got %+v", results)
	}
	if results[0].Strategy.ID != "s1" {
		t.Fatalf("expected full-overlap strategy ranked first, got %+v", results)
	}
}

func TestCleanupRetainsTopNPerTypeBySuccessRate(t *testing.T) {
	f := NewLearningFabric()
	f.AddLocalStrategy(Strategy{ID: "local-low", TaskType: "t", SuccessRate: 0.3})
	f.ImportStrategy(Strategy{ID: "peer-high", TaskType: "t", SuccessRate: 0.9})
	f.ImportStrategy(Strategy{ID: "peer-mid", TaskType: "t", SuccessRate: 0.5})

	f.Cleanup(2)

	remaining := f.QueryByType("t", 0)
	if len(remaining) != 2 {
		t.Fatalf("expected cleanup to retain exactly 2 strategies, got %+v", remaining)
	}
	for _, s := range remaining {
		if s.ID == "local-low" {
			t.Fatalf("expected lowest success-rate strategy evicted, found %+v", remaining)
		}
	}
}
