package workflow

import "fmt"

// ReduceMapResults combines per-chunk MapReduce outputs according to
// the stage's configured reducer ("concat", "merge", "count"), per
// SPEC_FULL.md §5's aggregation supplement.
func ReduceMapResults(reducer string, chunkResults []interface{}) (interface{}, error) {
	switch reducer {
	case "", "concat":
		return chunkResults, nil
	case "count":
		return len(chunkResults), nil
	case "merge":
		merged := make(map[string]interface{})
		for _, r := range chunkResults {
			m, ok := r.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("merge reducer requires map[string]interface{} chunk results, got %T", r)
			}
			for k, v := range m {
				merged[k] = v
			}
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unknown reducer %q", reducer)
	}
}

// ConsensusOutcome reports whether a Consensus stage's executor
// results agree sufficiently to complete: it completes when the share
// of matching results meets or exceeds minAgreement, otherwise Failed.
func ConsensusOutcome(results []interface{}, minAgreement float64) (agreed bool, majority interface{}, agreement float64) {
	if len(results) == 0 {
		return false, nil, 0
	}
	counts := make(map[string]int)
	values := make(map[string]interface{})
	for _, r := range results {
		key := fmt.Sprintf("%v", r)
		counts[key]++
		values[key] = r
	}

	var bestKey string
	bestCount := 0
	for k, c := range counts {
		if c > bestCount {
			bestCount = c
			bestKey = k
		}
	}

	agreement = float64(bestCount) / float64(len(results))
	return agreement >= minAgreement, values[bestKey], agreement
}
