/*
Package types defines the core data structures used throughout Foreman.

It contains the domain model the scheduler coordinates: execution hosts,
agent kinds (the templates agents are launched from), jobs pulled from the
persistent queue, live agent processes, and the closed event set the
scheduler loop dispatches on.

Hosts and jobs are mutated on the scheduler's single event-loop goroutine.
Agent records are also updated by the supervisor's status readers, under
the supervisor's mutex. The structs themselves carry no locks.
*/
package types
