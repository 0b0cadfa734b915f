// Package id provides sortable 128-bit message identifiers.
//
// IDs embed a millisecond timestamp followed by a per-process sequence, so
// byte order equals creation order. The queue relies on IDs only for
// uniqueness; dequeue ordering is carried by an explicit sequence counter.
package id
