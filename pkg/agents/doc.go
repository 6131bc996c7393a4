/*
Package agents manages agent kinds and the worker processes launched from
them.

KindRegistry holds the launch templates read from the per-agent config
directory. Supervisor owns every live agent process: it spawns them with one
job each, follows their READY/WORKING status lines, batches their deaths
into single event-loop events, and resolves the attached job when a process
exits. The host capacity counters are mutated here and nowhere else.
*/
package agents
