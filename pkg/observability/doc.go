/*
Package observability turns handshake lifecycle events into logs and
Prometheus metrics.

Both are delivered as domain.LifecycleHooks, so they plug into the machine the
same way any other hook does. Combine merges several hook sets.
*/
package observability
