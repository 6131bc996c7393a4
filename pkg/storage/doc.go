/*
Package storage persists the job queue across scheduler restarts.

Jobs are stored as JSON in a single BoltDB bucket. The Store interface is
what the queue consumes; BoltStore is the only implementation.
*/
package storage
