/*
Package iface is the TCP control interface.

Commands are single lines: status, verbose <n>, queue <kind> <payload>
[priority], reload, stop, watch. Each
one either reads a snapshot or enqueues an event; the scheduler loop does
the actual work, so a misbehaving session cannot corrupt scheduler state.
Authentication is delegated to the deployment (the port should only be
reachable by the platform itself).
*/
package iface
