// Package archive stores allocation snapshots.
//
// Every computed allocation can be written as a JSON document for audits and
// reruns. MinIO keeps snapshots in an S3-compatible bucket; Memory keeps them
// in process for tests and the CLI.
//
// Snapshot keys group by course, assignment and run kind:
//
//	5/77/automatic/20260302T090000Z-3f0c....json
package archive
