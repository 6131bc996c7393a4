/*
Package events provides the scheduler's two event mechanisms.

Loop is the core: a single-consumer FIFO with a tick callback, giving the
scheduler a strict total order over every state mutation. Signals, agent
deaths, operator commands and timers all become loop events; handlers run
one at a time on the loop goroutine, so the rest of the system needs no
locking discipline beyond "enqueue, don't touch".

Broker is the periphery: a fan-out of observational notices (job started,
agent died, config reloaded) consumed by control-interface sessions.
Notices are best-effort; a slow subscriber is skipped, never waited on.
*/
package events
