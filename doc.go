// Package relayq provides a durable background job engine for Go. It
// decouples slow or unreliable external calls (sending mail, verifying
// payments, syncing with an LMS) from the synchronous request path and
// guarantees at-least-once execution with bounded retries.
//
// Relayq is designed as a library, not a service. Import it, configure a
// store, register one handler per queue, and start the worker pool.
//
// # Quick Start
//
//	b, err := relayq.New(
//	    relayq.WithStore(pgStore),
//	    relayq.WithQueues("mail", "payment-verify"),
//	)
//	eng, err := engine.Build(b)
//	engine.Register(eng, mailDef)
//	err = eng.Start(ctx)
//
// # Architecture
//
// The job store holds the durable record of every job and provides the
// atomic claim primitive. The worker pool claims waiting jobs within
// per-queue concurrency bounds and invokes registered handlers. Failed
// attempts are rescheduled with exponential backoff until the attempt
// budget is exhausted. An administrative surface exposes pause/resume,
// retry, clean, per-queue stats, and a threshold-based health check.
//
// Handlers are expected to be idempotent: delivery is at-least-once, and
// a job interrupted mid-execution is requeued after a staleness window.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package relayq
