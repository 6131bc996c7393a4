/*
Package log provides structured logging for Foreman built on zerolog.

Init configures the single global logger; packages derive child loggers
with WithComponent and the WithJobID/WithAgentPID/WithHostID helpers so
every line carries the identifiers an operator greps for.
*/
package log
