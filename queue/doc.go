// Package queue defines per-queue runtime control: concurrency bounds,
// pause state, and claim rate limiting.
//
// Queues are named channels that group jobs of one kind. A job carries a
// Queue field that determines both which queue it belongs to and which
// handler processes it. The worker pool polls the queues listed in
// [relayq.Config.Queues].
//
// # Per-Queue Configuration
//
// Use [Config] to bound a queue:
//
//	queue.Config{
//	    Name:        "mail",
//	    Concurrency: 5,   // at most 5 mail jobs active at once
//	    RateLimit:   10,  // at most 10 claims/s
//	    RateBurst:   20,  // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.Build(b,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: "payment-verify", Concurrency: 2},
//	        queue.Config{Name: "lms-sync", RateLimit: 5},
//	    ),
//	)
//
// # Manager
//
// [Manager] enforces the bounds at claim time. It uses a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for the
// concurrency cap; pause state short-circuits both.
//
//	if m.Acquire(queueName) {
//	    defer m.Release(queueName)
//	    // claim one job; on success call m.Charge(queueName) so the
//	    // rate budget is spent only on claims that found work
//	}
//
// Queues without a [Config] run unpaused at the manager default.
package queue
