/*
Package metrics exposes Foreman's Prometheus instrumentation.

Gauges track the fleet and job population, counters track spawns and job
outcomes, and histograms time agent spawns and policy ticks. Handler serves
the standard /metrics endpoint.
*/
package metrics
