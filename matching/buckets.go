package matching

import (
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/types"
)

// Bucket is a destination with a fixed target count, such as a TA and the
// number of students the TA reviews.
type Bucket struct {
	ID       types.UserID
	Target   int
	Assigned []types.UserID
}

// AllocatePopulationToBuckets partitions population across buckets.
//
// The population is shuffled once and sliced sequentially, each bucket in
// input order consuming exactly its target count.
//
// Parameters:
//   - buckets: Buckets with their target counts
//   - population: IDs to distribute (duplicates are ignored)
//   - rng: Random source (a fresh random source when nil)
//
// Returns:
//   - []Bucket: Copies of the buckets with Assigned filled in
//   - error: ErrCountMismatch when the targets do not sum to the population size,
//     ErrConfiguration for a negative target
//
// Example:
//
//	buckets, err := matching.AllocatePopulationToBuckets(
//	    []matching.Bucket{{ID: 99, Target: 4}, {ID: 98, Target: 5}},
//	    students, rng,
//	)
func AllocatePopulationToBuckets(buckets []Bucket, population []types.UserID, rng Source) ([]Bucket, error) {
	population = dedupe(population)

	total := 0
	for _, b := range buckets {
		if b.Target < 0 {
			return nil, fmt.Errorf("%w: bucket %d has negative target %d", ErrConfiguration, b.ID, b.Target)
		}
		total += b.Target
	}

	if total != len(population) {
		return nil, fmt.Errorf("%w: targets sum to %d, population is %d", ErrCountMismatch, total, len(population))
	}

	rng = orDefault(rng)
	shuffled := slices.Clone(population)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	out := make([]Bucket, len(buckets))
	start := 0
	for i, b := range buckets {
		out[i] = Bucket{
			ID:       b.ID,
			Target:   b.Target,
			Assigned: slices.Clone(shuffled[start : start+b.Target]),
		}
		start += b.Target
	}

	return out, nil
}
