// Package job defines the job entity, state machine, typed handler
// definitions, and store interface.
//
// # Job Entity
//
// A [Job] represents one unit of deferred work. It embeds relayq.Entity
// for timestamps, carries an opaque JSON payload, and progresses through
// a state machine:
//
//	waiting → active → completed
//	waiting → active → delayed → waiting → active → ...   (retry with backoff)
//	waiting → active → failed
//	delayed → waiting → ...                               (enqueue with delay)
//	failed  → waiting                                     (administrative retry)
//
// Fields of note:
//   - Queue: which queue the job belongs to; also selects the handler
//   - Priority: higher values are claimed first, ties by creation order
//   - Attempts / MaxAttempts: the retry budget; Attempts counts claims
//   - DelayUntil: earliest time a delayed job may become waiting
//   - Result: handler return value, set only on completion
//
// # Defining a Handler
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendMail = job.NewDefinition("mail",
//	    func(ctx context.Context, input MailInput) (any, error) {
//	        return nil, mailer.Send(ctx, input.To, input.Subject, input.Body)
//	    },
//	)
//
// Return [Permanent]-wrapped errors for failures that must not be
// retried, such as a payment gateway rejecting a transaction outright.
//
// # Registry
//
// [Registry] maps queue names to type-erased [HandlerFunc] values,
// exactly one per queue. Register definitions at startup via
// [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendMail)
//	job.RegisterDefinition(registry, VerifyPayment)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
