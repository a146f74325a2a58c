package matching

import (
	"math/rand/v2"
	"strings"

	"github.com/zeebo/xxh3"
)

// Source is the randomness used by the matchers.
//
// *math/rand/v2.Rand satisfies Source. A Source is not shared between
// goroutines; every run creates its own.
type Source interface {
	// Shuffle pseudo-randomizes the order of n elements using swap.
	Shuffle(n int, swap func(i, j int))

	// IntN returns a non-negative pseudo-random number in [0,n).
	IntN(n int) int
}

// NewSource returns a PCG-backed Source seeded with seed.
//
// Example:
//
//	rng := matching.NewSource(matching.SeedFor("course-42", "assignment-7"))
//	matches, err := matching.MatchReviewers(graders, recipients, 2, rng)
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // matching does not need crypto randomness
}

// NewRandomSource returns a Source seeded from the runtime's random generator.
func NewRandomSource() *rand.Rand {
	return NewSource(rand.Uint64()) //nolint:gosec // matching does not need crypto randomness
}

// SeedFor derives a stable seed from the given parts with xxh3.
//
// The same parts always produce the same seed, which lets a preview and a
// later persisting run compute identical matches.
//
// Parameters:
//   - parts: Values identifying the run (course, assignment, salt, ...)
//
// Returns:
//   - uint64: Seed for NewSource
func SeedFor(parts ...string) uint64 {
	return xxh3.HashString(strings.Join(parts, "\x00"))
}

func orDefault(rng Source) Source {
	if rng == nil {
		return NewRandomSource()
	}

	return rng
}
