// Package engine reconciles a product catalog with a content document store.
//
// # Overview
//
// An Orchestrator runs batches that bring target documents in line with the
// source catalog:
//
//  1. Fetch - read items from the SourceCatalog, optionally page by page
//  2. Reconcile - create, update or skip the document of each item (Reconciler)
//  3. Link - make product and collection relations symmetric (Linker)
//  4. Archive - retire documents whose item left the catalog (Archiver)
//
// Every run moves through the phases idle, initializing, syncing.fetching,
// syncing.reconciling, syncing.linking and complete. The StateMachine reports
// each phase, and progress within it, to the Observer passed to New.
//
// # Writes
//
// All writes go through a WorkQueue with concurrency 1 and wait for a
// WriteThrottle before reaching the store, so at most one mutation is in flight
// and consecutive mutations are at least the write delay apart.
//
// Documents are never deleted. Archived documents keep their internal id and
// lose all relations.
//
// # Errors
//
// Errors are EngineError values classified for propagation:
//
//   - credentials: rejected secrets, reported through the secretsError phase
//   - inconsistency: a written document could not be read back; aborts the batch
//   - programmer: unsupported item kinds and invalid transitions
//   - unresolved: a relation to an item missing on both sides (policy fail only)
//   - transient: store and catalog failures
//
// Use errors.Is with ErrRefetchInconsistency, ErrUnsupportedKind and the other
// sentinels to test for a specific failure.
package engine
