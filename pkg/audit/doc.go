// Package audit records an immutable trail of permission decisions and rule
// changes for compliance reporting.
//
// # Overview
//
// Every authorization decision made by the engine produces exactly one
// Entry, whether the decision succeeded, was denied or failed internally.
// Rule management (grant, revoke, update) records entries through the same
// Recorder. Entries are only ever appended: no type in this package offers
// an update or delete, and the Postgres table is guarded by a trigger that
// rejects UPDATE and DELETE.
//
// # Recorders
//
//   - DBRecorder: PostgreSQL, also implements Reader
//   - MemoryRecorder: in process, also implements Reader
//   - FileRecorder: newline-delimited JSON with size-based rotation
//   - BufferedRecorder: bounded queue in front of another recorder; never
//     blocks the caller and counts dropped entries
//   - MultiRecorder: fan-out
//
// Recording is best effort. Callers log recorder errors operationally and
// carry on with the decision.
//
// # Reading
//
//	entries, err := reader.Search(ctx, audit.Filter{
//		OrganizationID: "org-1",
//		Actor:          "u1",
//		Result:         audit.ResultFailure,
//	})
//
//	stats, err := reader.Stats(ctx, "org-1", &since, nil)
//	data, err := audit.Export(ctx, reader, filter, audit.ExportFormatCSV)
package audit
