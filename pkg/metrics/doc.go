// Package metrics exports virtual backend activity to Prometheus.
//
// A Metrics value owns its own prometheus.Registry, so several servers (or
// tests) in one process never collide. It implements consistency.Observer
// and is attached to every workspace tracker by the registry.
//
// Exported series:
//
//   - vbackend_entity_operations_total{workspace,operation,protocol}
//   - vbackend_entity_errors_total{workspace,operation,kind}
//   - vbackend_entity_operation_duration_seconds{operation}
//   - vbackend_lock_wait_seconds{scope,granted}
//   - vbackend_snapshot_restores_total{workspace}
//   - vbackend_snapshot_restored_records{workspace}
//   - vbackend_admin_requests_total{method,route,status}
//   - vbackend_admin_request_duration_seconds{method,route}
//
// plus the standard Go runtime and process collectors.
//
// # Usage
//
//	m := metrics.New()
//	reg, _ := workspace.NewRegistry(ctx, workspace.WithObserver(m))
//	http.Handle("/metrics", m.Handler())
package metrics
