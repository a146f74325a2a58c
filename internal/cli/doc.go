// Package cli implements the peerpair command line: one-shot allocation
// commands, a dry-run preview and a long-running server.
package cli
