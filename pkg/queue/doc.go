/*
Package queue tracks the jobs the scheduler may run next.

The queue is an in-memory view over the persistent job store: Refresh pulls
newly arrived pending jobs, Next claims the best eligible one, and
Release/MarkRunning/Finish move jobs through the claim lifecycle. Eligibility
honors per-kind global concurrency caps so one agent kind cannot starve the
rest of the platform.
*/
package queue
