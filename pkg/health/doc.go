/*
Package health provides the checks Foreman runs against its host fleet.

Two checkers: TCP reachability for remote hosts, and executable resolution
for agent commands in a host's agent directory. Both run after config load
and reload so a host that cannot actually run agents is surfaced before a
job is placed on it.
*/
package health
