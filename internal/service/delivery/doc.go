// Package delivery owns the send_message half of the action instance
// lifecycle: claiming due instances, handing them to the delivery provider
// with bounded retries, and folding provider callbacks back into instance
// status and delivery record timestamps.
//
// Enqueueing is at-least-once toward the provider and exactly-once in the
// store: a claim leases the row so concurrent dispatchers never double
// dispatch, a provider failure schedules a retry with exponential backoff
// and full jitter until the attempt ceiling marks the instance
// failed_to_enqueue, and a success records the provider correlation id in
// the same transaction that flips the instance to enqueued.
//
// Provider callbacks arrive out of order and duplicated. The webhook
// receiver stages them raw; the reconciler applies staged events with
// first-occurrence-wins timestamps and rank-monotone status advancement,
// and leaves events that reference an unknown correlation id staged for a
// later pass, which covers callbacks that outrun the enqueued write.
package delivery
