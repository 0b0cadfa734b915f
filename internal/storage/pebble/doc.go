// Package pebblestore wraps Pebble with the durability policy and batch
// helpers the queue engine needs. All queue state lives in one keyspace so a
// single batch commit moves a message between membership sets atomically.
package pebblestore
