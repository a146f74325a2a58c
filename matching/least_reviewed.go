package matching

import (
	"cmp"
	"slices"

	"github.com/arloliu/peerpair/types"
)

// RankLeastReviewed orders candidates by how many reviews they already
// receive, fewest first, breaking ties randomly.
//
// Parameters:
//   - counts: Current review count per recipient (missing means zero)
//   - candidates: Recipients to rank (duplicates are ignored)
//   - rng: Random source (a fresh random source when nil)
//
// Returns:
//   - []types.UserID: Ranked copy of candidates
func RankLeastReviewed(counts map[types.UserID]int, candidates []types.UserID, rng Source) []types.UserID {
	rng = orDefault(rng)
	ranked := dedupe(candidates)

	tiebreak := make(map[types.UserID]int, len(ranked))
	for _, id := range ranked {
		tiebreak[id] = rng.IntN(1 << 20)
	}

	slices.SortStableFunc(ranked, func(a, b types.UserID) int {
		if c := cmp.Compare(counts[a], counts[b]); c != 0 {
			return c
		}

		return cmp.Compare(tiebreak[a], tiebreak[b])
	})

	return ranked
}
