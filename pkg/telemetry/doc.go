// Package telemetry provides observability for sync runs.
//
// It combines structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics and an in-process event publisher:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Metrics and Tracer are safe to use as nil pointers, which record nothing. The
// engine accepts both as options so that library users are not forced to wire
// an exporter.
//
// # Metrics
//
// All collectors live on a private registry exposed through Metrics.Handler:
//
//   - sanesync_runs_started_total / runs_completed_total / run_duration_seconds
//   - sanesync_sync_operations_total{kind,type}
//   - sanesync_linked_documents_total, removed_relations_total, archived_documents_total
//   - sanesync_unresolved_pairs_total{kind,policy}
//   - sanesync_write_throttle_wait_seconds
//   - sanesync_queue_tasks_total{queue,status}
//   - sanesync_client_calls_total and client_call_duration_seconds
//   - sanesync_errors_by_class_total / errors_by_code_total
//
// # Events
//
// EventPublisher delivers run and document events to subscribers in publish
// order. The CLI persists them to the run history table.
package telemetry
