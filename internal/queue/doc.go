// Package queue implements a durable priority work queue with at-least-once
// delivery.
//
// Messages move through three membership sets: queued (the priority-ordered
// ready index), processing (lease-tracked with a visibility deadline), and
// dead-lettered (retry budget exhausted). Dequeue order is priority ascending,
// then enqueue sequence ascending; a retried message receives a fresh sequence
// and so rejoins the queue behind already-queued work of the same priority.
//
// All state lives in Pebble under the queue's key prefix, and every lifecycle
// transition commits as a single batch, so a crash at any point leaves each
// message in exactly one set. Leases that outlive their visibility deadline
// are reclaimed by a background sweeper and treated as failed deliveries.
package queue
