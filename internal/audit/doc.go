// Package audit relays authentication audit entries to pluggable sinks.
//
// # Components
//
//   - [Sink] receives entries (channel, JSON writer, fan-out, no-op; the SQL
//     sink lives in the auditlog package).
//   - [Dispatcher] is a buffered relay with one worker, optional drop-if-full.
//   - [Entry] is the append-only record.
//
// Sink failures are counted and logged, never returned to the caller whose
// operation produced the entry.
package audit
