package queue

import (
	"encoding/binary"

	"github.com/mood-agency/relay/pkg/id"
)

// Key prefixes for queue data structures, all under q/{queue}/:
//
//	msg/{id}                     - Message record (JSON)
//	ready/{priority}/{seq}       - Priority index; value is the message id
//	lease/{id}                   - Active lease record (JSON)
//	lease_idx/{deadline_ms}/{id} - Lease expiry index for sweeping
//	dlq/{id}                     - Dead-lettered record (JSON)
//	meta                         - lastSeq and lifetime counters
const (
	prefixMsg      = "msg/"
	prefixReady    = "ready/"
	prefixLease    = "lease/"
	prefixLeaseIdx = "lease_idx/"
	prefixDLQ      = "dlq/"
	suffixMeta     = "meta"
)

// queuePrefix returns the base prefix for a queue. Format: q/{queue}/
func queuePrefix(queue string) string {
	return "q/" + queue + "/"
}

// MetaKey returns the metadata key for a queue.
func MetaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + suffixMeta)
}

// MsgKey returns the key holding a message record.
func MsgKey(queue string, msgID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixMsg
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], msgID[:])
	return key
}

// ReadyKey returns the priority index key. Priority and sequence are encoded
// big-endian so Pebble's iteration order is (priority asc, sequence asc):
// strict FIFO within a priority, lower priority values dequeued first.
func ReadyKey(queue string, priority uint32, seq uint64) []byte {
	prefix := queuePrefix(queue) + prefixReady
	key := make([]byte, len(prefix)+4+8)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], priority)
	binary.BigEndian.PutUint64(key[len(prefix)+4:], seq)
	return key
}

// ReadyPrefix returns the prefix for priority index scanning.
func ReadyPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixReady)
}

// LeaseKey returns the key holding a lease record.
func LeaseKey(queue string, msgID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixLease
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], msgID[:])
	return key
}

// LeasePrefix returns the prefix for lease record scanning.
func LeasePrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLease)
}

// LeaseIdxKey returns the lease expiry index key for a deadline and message.
func LeaseIdxKey(queue string, deadlineMs int64, msgID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(deadlineMs))
	copy(key[len(prefix)+8:], msgID[:])
	return key
}

// LeaseIdxPrefix returns the prefix for lease expiry scanning.
func LeaseIdxPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLeaseIdx)
}

// DLQKey returns the dead letter key for a message.
func DLQKey(queue string, msgID id.ID) []byte {
	prefix := queuePrefix(queue) + prefixDLQ
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	copy(key[len(prefix):], msgID[:])
	return key
}

// DLQPrefix returns the prefix for dead letter scanning.
func DLQPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ)
}

// keyRange returns [start, end) bounds covering every key under prefix.
func keyRange(prefix []byte) ([]byte, []byte) {
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return prefix, end
}

// parseReadyKey extracts priority and sequence from a ready index key.
func parseReadyKey(key, prefix []byte) (priority uint32, seq uint64, ok bool) {
	if len(key) != len(prefix)+4+8 {
		return 0, 0, false
	}
	priority = binary.BigEndian.Uint32(key[len(prefix):])
	seq = binary.BigEndian.Uint64(key[len(prefix)+4:])
	return priority, seq, true
}

// parseLeaseIdxKey extracts deadline and message id from an expiry index key.
func parseLeaseIdxKey(key, prefix []byte) (deadlineMs int64, msgID id.ID, ok bool) {
	if len(key) != len(prefix)+8+16 {
		return 0, id.Zero, false
	}
	deadlineMs = int64(binary.BigEndian.Uint64(key[len(prefix):]))
	copy(msgID[:], key[len(prefix)+8:])
	return deadlineMs, msgID, true
}
