// Package testing provides test utilities for peerpair.
//
// It offers an embedded NATS server with JetStream for the KV-backed ledger,
// admission table and notifier, plus small roster fixtures shared by the
// orchestrator tests. It follows Go's convention of providing testing
// utilities in a dedicated package (similar to net/http/httptest).
//
// Example usage:
//
//	import (
//	    "testing"
//	    pptest "github.com/arloliu/peerpair/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := pptest.StartEmbeddedNATS(t)
//	    kv := pptest.CreateJetStreamKV(t, nc, "ledger")
//	    // Use kv for your tests
//	}
package testing
