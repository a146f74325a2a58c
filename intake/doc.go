// Package intake consumes allocation requests from a JetStream work queue.
//
// Producers publish a JSON encoded request on "<prefix>.requests.<kind>",
// for example "peerpair.requests.automatic". A durable pull consumer reads
// the queue and hands every message to a Handler; the Dispatcher handler
// decodes the request and submits it to the allocation service.
//
// Message disposition:
//   - Handler returns nil: the message is acknowledged
//   - Handler returns a Permanent error: the message is terminated and never
//     redelivered (malformed payloads, invalid requests, duplicate runs)
//   - Any other error: the message is negatively acknowledged with a
//     jittered delay that grows with the delivery count, up to MaxDeliver
//
// Example:
//
//	cons, err := intake.NewConsumer(js, intake.Config{SubjectPrefix: "peerpair"},
//	    intake.NewDispatcher(svc, logger))
//	if err != nil {
//	    return err
//	}
//	if err := cons.Start(ctx); err != nil {
//	    return err
//	}
//	defer cons.Close(context.Background())
//
//	_, err = intake.Publish(ctx, js, "peerpair", intake.KindAutomatic, allocation.AutomaticRequest{...})
package intake
