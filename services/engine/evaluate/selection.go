package evaluate

import "github.com/heliosrules/helios/services/engine/model"

// applySelection is C11: a pure post-filter over the raw match list
// produced by the matcher. It never prunes earlier steps (spec §4.11).
// matches must already be in combinationId order.
func applySelection(strategy model.SelectionStrategy, matches []Match) []Match {
	switch strategy {
	case model.FirstMatch:
		if len(matches) == 0 {
			return matches
		}
		return matches[:1]

	case model.HighestPriority:
		if len(matches) == 0 {
			return matches
		}
		max := matches[0].Priority
		for _, m := range matches[1:] {
			if m.Priority > max {
				max = m.Priority
			}
		}
		out := matches[:0:0]
		for _, m := range matches {
			if m.Priority == max {
				out = append(out, m)
			}
		}
		return out

	default: // AllMatches
		return matches
	}
}
