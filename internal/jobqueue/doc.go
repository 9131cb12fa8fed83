// Package jobqueue is a SQLite-backed job queue with at-least-once delivery.
//
// Jobs live in two lanes: immediate jobs are always drained before normal
// ones. Dequeue leases a job for a fixed duration and bumps its delivery
// count; Ack removes it, Nack returns it to the queue, and ReclaimExpired
// makes jobs whose lease lapsed deliverable again. A worker that crashes
// mid-job therefore loses nothing: the lease expires and another worker
// picks the job up, which is exactly the at-least-once contract consumers
// must tolerate.
package jobqueue
