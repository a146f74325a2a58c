package matching

import (
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/types"
)

// Match is one grader together with the recipients it reviews.
type Match struct {
	Grader     types.UserID
	Recipients []types.UserID
}

// MatchReviewers assigns each grader `rounds` distinct recipients, never itself.
//
// The algorithm:
//  1. Shuffle the recipients once into a ring
//  2. For each grader in order, if the grader sits inside the current window of
//     `rounds` recipients, swap it with the recipient just past the window
//  3. Assign the window to the grader and rotate the ring left by `rounds`
//
// Every ring position is consumed once per cycle, so review load stays within a
// small skew. At the tail of a cycle, where the slot past the window has
// already been handed out, a self-conflict is repaired by exchanging one
// recipient with an earlier grader instead, which keeps the load balanced.
//
// Parameters:
//   - graders: Grader IDs, processed in order (duplicates are ignored)
//   - recipients: Recipient IDs (duplicates are ignored)
//   - rounds: Recipients per grader; must be at least 1 and below both population sizes
//   - rng: Random source (a fresh random source when nil)
//
// Returns:
//   - []Match: One entry per grader, in grader order
//   - error: ErrInvalidRounds when rounds is out of range
//
// Example:
//
//	matches, err := matching.MatchReviewers([]types.UserID{1, 2, 3}, []types.UserID{1, 2, 3}, 1, rng)
func MatchReviewers(graders, recipients []types.UserID, rounds int, rng Source) ([]Match, error) {
	graders = dedupe(graders)
	recipients = dedupe(recipients)

	if rounds < 1 || rounds >= len(graders) || rounds >= len(recipients) {
		return nil, fmt.Errorf("%w: %d rounds for %d graders and %d recipients",
			ErrInvalidRounds, rounds, len(graders), len(recipients))
	}

	rng = orDefault(rng)
	r := newRing(recipients)
	rng.Shuffle(r.len(), r.swap)

	matches := make([]Match, 0, len(graders))
	consumed := 0 // positions handed out in the current cycle

	for _, grader := range graders {
		assigned := r.window(rounds)

		if pos := slices.Index(assigned, grader); pos >= 0 {
			repaired := false
			if rounds >= r.len()-consumed {
				repaired = repairFromEarlier(matches, assigned, pos, grader)
			}
			if !repaired {
				r.swapAt(pos, rounds)
				assigned = r.window(rounds)
			}
		}

		matches = append(matches, Match{Grader: grader, Recipients: assigned})
		r.rotate(rounds)
		consumed = (consumed + rounds) % r.len()
	}

	return matches, nil
}

// repairFromEarlier replaces the grader sitting at assigned[pos] with a
// recipient taken from an earlier match, handing the grader to that match.
// The ring itself is left untouched so it stays a permutation.
func repairFromEarlier(matches []Match, assigned []types.UserID, pos int, grader types.UserID) bool {
	for m := len(matches) - 1; m >= 0; m-- {
		earlier := &matches[m]
		if earlier.Grader == grader || slices.Contains(earlier.Recipients, grader) {
			continue
		}

		for k, candidate := range earlier.Recipients {
			if candidate == grader || slices.Contains(assigned, candidate) {
				continue
			}

			earlier.Recipients[k] = grader
			assigned[pos] = candidate

			return true
		}
	}

	return false
}

// ring is a fixed-size circular buffer used for the rotation window.
type ring struct {
	buf  []types.UserID
	head int
}

func newRing(ids []types.UserID) *ring {
	return &ring{buf: slices.Clone(ids)}
}

func (r *ring) len() int {
	return len(r.buf)
}

func (r *ring) idx(i int) int {
	return (r.head + i) % len(r.buf)
}

func (r *ring) at(i int) types.UserID {
	return r.buf[r.idx(i)]
}

// swap exchanges two absolute buffer positions; used for the initial shuffle.
func (r *ring) swap(i, j int) {
	r.buf[i], r.buf[j] = r.buf[j], r.buf[i]
}

// swapAt exchanges two positions relative to the head.
func (r *ring) swapAt(i, j int) {
	a, b := r.idx(i), r.idx(j)
	r.buf[a], r.buf[b] = r.buf[b], r.buf[a]
}

// window returns a copy of the first n elements from the head.
func (r *ring) window(n int) []types.UserID {
	out := make([]types.UserID, n)
	for i := range n {
		out[i] = r.at(i)
	}

	return out
}

func (r *ring) rotate(n int) {
	r.head = r.idx(n)
}

func dedupe(ids []types.UserID) []types.UserID {
	seen := make(map[types.UserID]struct{}, len(ids))
	out := make([]types.UserID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
