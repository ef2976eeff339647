// Package stores provides the SQLite persistence layer for sanesync.
//
// SQLiteStore mirrors catalog items as JSON document trees and implements
// engine.TargetStore. Lookups by internal id, external id, handle, type and
// archived flag use indexed columns; relation filters are evaluated on the
// decoded trees. Patches are applied inside an immediate transaction so a
// commit never interleaves with another writer.
//
// SecretStore keeps the catalog credentials in the same database with the
// access token sealed by a SecretCipher (XChaCha20-Poly1305, Argon2id key).
//
// Run summaries and the event log are kept for the status command and for
// auditing scheduled syncs. Schema changes are applied by Migrate from the
// embedded migrations directory.
package stores
