// Package worker implements the in-memory queue worker: a fixed set of
// worker slots fed by direct handoff with a bounded wait.
//
// Submit validates the event, then waits at most the configured submission
// wait budget for an idle slot. If none frees up in time the submission is
// refused with NoResourcesAvailable and the event is never evaluated. Once
// admitted, the event is evaluated on the slot's goroutine; evaluation
// failures are counted and logged but never reach the submitter.
//
// There is no internal queue: throughput is bounded by the number of slots
// and the latency of the rule evaluation engine.
package worker
