/*
Package proclock enforces the one-scheduler-per-machine rule.

The lock is a POSIX shared-memory object named after the process and
holding the owner's PID, zero padded to a fixed width. A second instance
finds the live owner and backs off; a stale lock left by a crashed owner
is detected with a signal-0 probe and unlinked.
*/
package proclock
