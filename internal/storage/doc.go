// Package storage persists the recurring rule, the one-off events and the
// operator audit trail. Drivers: file (JSON documents next to each other),
// sqlite (modernc.org/sqlite) and postgres (pgx pool).
//
// The rule is stored as an opaque JSON document so the rule store can see
// which fields are present and repair the rest. Event start times are kept
// as raw strings so a malformed value survives a load and can be skipped.
package storage
