package matching

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/arloliu/peerpair/types"
)

// DefaultMaxAttempts bounds the restarts of MatchNonGroupReviewers.
const DefaultMaxAttempts = 100

// GroupGraders describes one group for non-group matching.
type GroupGraders struct {
	// GroupID identifies the group.
	GroupID int64

	// Graders are the group members that give reviews.
	Graders []types.UserID

	// Members is the full membership. Graders are always treated as members,
	// so Members only needs to list the extra ones (nil is fine).
	Members []types.UserID
}

// NonGroupOption configures MatchNonGroupReviewers.
type NonGroupOption func(*nonGroupOptions)

type nonGroupOptions struct {
	maxAttempts int
}

// WithMaxAttempts sets how many times the matching restarts before giving up.
//
// Values below 1 are ignored (default: 100).
func WithMaxAttempts(n int) NonGroupOption {
	return func(o *nonGroupOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// NonGroupResult is the outcome of MatchNonGroupReviewers.
type NonGroupResult struct {
	// Matches holds one entry per grader in processing order.
	Matches []Match

	// Attempts is the number of attempts used, including the successful one.
	Attempts int
}

type preparedGroup struct {
	id      int64
	graders []types.UserID
	pool    []types.UserID // recipients outside the group
}

// MatchNonGroupReviewers assigns each grader `rounds` recipients from other groups.
//
// The algorithm repeatedly picks the group whose members were chosen least so
// far, and for each of its graders sorts the recipients outside the group by
// (times assessed, random tiebreak) and takes the first `rounds`. Because the
// random tiebreak can leave a recipient without any review, the whole
// procedure restarts from scratch until every recipient is assessed at least
// once, up to the configured number of attempts.
//
// Groups are processed in ascending GroupID order on ties so seeded runs are
// reproducible. A grader listed in several groups is matched once, for the
// first group that lists it.
//
// Parameters:
//   - groups: Groups with their graders
//   - recipients: Pool of reviewable IDs
//   - rounds: Recipients per grader
//   - rng: Random source (a fresh random source when nil)
//   - opts: Optional configuration (WithMaxAttempts)
//
// Returns:
//   - NonGroupResult: Matches and the attempts used
//   - error: ErrConfiguration for empty input, ErrInvalidRounds when a group has
//     fewer than `rounds` recipients outside it, ErrConvergence when some
//     recipient stays unreviewed after all attempts
func MatchNonGroupReviewers(
	groups []GroupGraders,
	recipients []types.UserID,
	rounds int,
	rng Source,
	opts ...NonGroupOption,
) (NonGroupResult, error) {
	if len(groups) == 0 {
		return NonGroupResult{}, fmt.Errorf("%w: no groups to generate non-group pairs", ErrConfiguration)
	}

	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		return NonGroupResult{}, fmt.Errorf("%w: no recipients to pair", ErrConfiguration)
	}

	if rounds < 1 {
		return NonGroupResult{}, fmt.Errorf("%w: %d rounds", ErrInvalidRounds, rounds)
	}

	options := nonGroupOptions{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	prepared, groupOf := prepareGroups(groups, recipients)

	for _, g := range prepared {
		if len(g.graders) > 0 && len(g.pool) < rounds {
			return NonGroupResult{}, fmt.Errorf("%w: group %d has %d recipients outside it for %d rounds",
				ErrInvalidRounds, g.id, len(g.pool), rounds)
		}
	}

	if r, ok := unreachableRecipient(prepared, recipients); ok {
		return NonGroupResult{}, fmt.Errorf("%w: recipient %d has no grader outside its group", ErrConvergence, r)
	}

	rng = orDefault(rng)
	for attempt := 1; attempt <= options.maxAttempts; attempt++ {
		matches, complete := nonGroupAttempt(prepared, groupOf, recipients, rounds, rng)
		if complete {
			return NonGroupResult{Matches: matches, Attempts: attempt}, nil
		}
	}

	return NonGroupResult{}, fmt.Errorf("%w: some recipient unreviewed after %d attempts", ErrConvergence, options.maxAttempts)
}

func prepareGroups(groups []GroupGraders, recipients []types.UserID) ([]preparedGroup, map[types.UserID]int64) {
	sorted := slices.Clone(groups)
	slices.SortStableFunc(sorted, func(a, b GroupGraders) int {
		return cmp.Compare(a.GroupID, b.GroupID)
	})

	groupOf := make(map[types.UserID]int64)
	seenGrader := make(map[types.UserID]struct{})
	prepared := make([]preparedGroup, 0, len(sorted))

	for _, g := range sorted {
		exclude := make(map[types.UserID]struct{}, len(g.Graders)+len(g.Members))
		graders := make([]types.UserID, 0, len(g.Graders))

		for _, id := range g.Graders {
			exclude[id] = struct{}{}
			if _, ok := groupOf[id]; !ok {
				groupOf[id] = g.GroupID
			}
			if _, dup := seenGrader[id]; dup {
				continue
			}
			seenGrader[id] = struct{}{}
			graders = append(graders, id)
		}
		for _, id := range g.Members {
			exclude[id] = struct{}{}
			if _, ok := groupOf[id]; !ok {
				groupOf[id] = g.GroupID
			}
		}

		pool := make([]types.UserID, 0, len(recipients))
		for _, r := range recipients {
			if _, skip := exclude[r]; !skip {
				pool = append(pool, r)
			}
		}

		prepared = append(prepared, preparedGroup{id: g.GroupID, graders: graders, pool: pool})
	}

	return prepared, groupOf
}

// unreachableRecipient finds a recipient that no grading group may review.
func unreachableRecipient(groups []preparedGroup, recipients []types.UserID) (types.UserID, bool) {
	reachable := make(map[types.UserID]struct{}, len(recipients))
	for _, g := range groups {
		if len(g.graders) == 0 {
			continue
		}
		for _, r := range g.pool {
			reachable[r] = struct{}{}
		}
	}

	for _, r := range recipients {
		if _, ok := reachable[r]; !ok {
			return r, true
		}
	}

	return 0, false
}

func nonGroupAttempt(
	groups []preparedGroup,
	groupOf map[types.UserID]int64,
	recipients []types.UserID,
	rounds int,
	rng Source,
) ([]Match, bool) {
	assessed := make(map[types.UserID]int, len(recipients))
	chosen := make(map[int64]int, len(groups))
	remaining := make([]int, len(groups))
	for i := range groups {
		remaining[i] = i
	}

	var matches []Match
	tiebreak := make(map[types.UserID]int, len(recipients))

	for len(remaining) > 0 {
		slices.SortStableFunc(remaining, func(a, b int) int {
			return cmp.Compare(chosen[groups[a].id], chosen[groups[b].id])
		})
		current := groups[remaining[0]]
		remaining = remaining[1:]

		available := slices.Clone(current.pool)
		for _, grader := range current.graders {
			for _, s := range available {
				tiebreak[s] = rng.IntN(10)
			}
			slices.SortStableFunc(available, func(a, b types.UserID) int {
				if c := cmp.Compare(assessed[a], assessed[b]); c != 0 {
					return c
				}

				return cmp.Compare(tiebreak[a], tiebreak[b])
			})

			peers := slices.Clone(available[:rounds])
			for _, peer := range peers {
				assessed[peer]++
				if gid, ok := groupOf[peer]; ok {
					chosen[gid]++
				}
			}
			matches = append(matches, Match{Grader: grader, Recipients: peers})
		}
	}

	for _, r := range recipients {
		if assessed[r] == 0 {
			return matches, false
		}
	}

	return matches, true
}
