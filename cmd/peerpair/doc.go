// Peerpair allocates peer-review pairings for course assignments.
//
// It matches students with submissions to review, allocates TA reviews,
// repairs pairings when submissions or rosters change and schedules runs at
// assignment due dates.
//
// Usage:
//
//	peerpair preview --course 5 --assignment 77 --rounds 2   # dry run
//	peerpair pair --course 5 --assignment 77 --rounds 2      # automatic run
//	peerpair pair --course 5 --assignment 77 --csv pairs.csv # explicit pairs
//	peerpair pair --course 5 --assignment 77 --ta alice:10   # TA allocation
//	peerpair maintain fill-missing --course 5 --assignment 77 --min 2
//	peerpair serve -c peerpair.yaml                          # long-running server
//	peerpair submit automatic request.json                   # queue for the server
package main
