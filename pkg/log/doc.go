// Package log provides structured, leveled logging for relay.
//
// Components receive a Logger by dependency injection and attach stable
// fields with With; there is no package-level default logger. Formatters
// (text, JSON) and outputs are pluggable. RedirectStdLog captures standard
// library logging (e.g. from Pebble) into the same pipeline.
package log
