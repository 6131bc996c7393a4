/*
Package sched is the heart of Foreman: the scheduler context, the policy
tick, and the handlers that react to agent deaths, timers, operator
commands and signals.

Everything here runs on the event loop goroutine. The policy is executed as
the loop's tick callback: admit jobs while capacity allows, defer an
exclusive job until the system drains, run it alone under lockout, and
terminate the loop once a close request has drained the system.
*/
package sched
