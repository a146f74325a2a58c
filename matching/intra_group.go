package matching

import "github.com/arloliu/peerpair/types"

// IntraGroupRoundRobin pairs every member of a group with every other member.
//
// Groups with two members or fewer are skipped: reviewing your only groupmate
// is not considered an intra-group review.
//
// Parameters:
//   - groups: Member IDs per group (duplicates inside a group are ignored)
//
// Returns:
//   - []Match: One entry per member of each qualifying group, in input order
func IntraGroupRoundRobin(groups [][]types.UserID) []Match {
	var matches []Match

	for _, members := range groups {
		members = dedupe(members)
		if len(members) <= 2 {
			continue
		}

		for _, grader := range members {
			recipients := make([]types.UserID, 0, len(members)-1)
			for _, r := range members {
				if r != grader {
					recipients = append(recipients, r)
				}
			}
			matches = append(matches, Match{Grader: grader, Recipients: recipients})
		}
	}

	return matches
}

// CountPairs returns the number of grader and recipient pairs in matches.
func CountPairs(matches []Match) int {
	n := 0
	for _, m := range matches {
		n += len(m.Recipients)
	}

	return n
}
