// Package notify delivers fire-and-forget pairing events.
//
// Orchestrators call a types.Notifier after each persisted pairing and once
// per finished run. Delivery must never slow down or fail a run, so
// production setups wrap the transport in an Async notifier:
//
//	pub := notify.NewNATS(nc, notify.DefaultSubjectPrefix)
//	n := notify.NewAsync(pub, notify.WithQueueSize(256), notify.WithLogger(logger))
//	defer n.Close(ctx)
//
// Available transports:
//   - Nop: discards every event
//   - NATS: publishes JSON events on <prefix>.pairing.created and <prefix>.run.completed
//   - Recorder: keeps events in memory (tests, CLI preview)
package notify
