/*
Package metrics exposes Burrow's Prometheus metrics and health endpoints.

All collectors are registered on the default registry at init. Mount wires
them onto an http.ServeMux:

	/metrics  Prometheus text exposition
	/health   overall status: healthy, degraded or unhealthy
	/ready    ready once the store and the reconciler report healthy
	/live     always 200 while the process runs

# Health

Components report through RegisterComponent and UpdateComponent. The store
and the reconciler are critical. The remote is not: an unreachable remote
turns /health to degraded but leaves /ready alone, since every local read and
write keeps working offline.

# Gauges

Counters and histograms are updated inline by the remote adapter, manager and
reconciler. The per-collection record gauge and the queue depth gauge are
sampled by a Collector from any Source, normally the manager.
*/
package metrics
