package queue

import (
	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
	"github.com/mood-agency/relay/pkg/id"
)

// prioIndex is the ordered index of queued message identifiers. Ordering is
// carried entirely by the key layout: (priority asc, sequence asc), so the
// first key under the ready prefix is always the next message to hand out.
type prioIndex struct {
	db    *pebblestore.DB
	queue string
}

// readyEntry is one queued index entry.
type readyEntry struct {
	key      []byte
	priority uint32
	seq      uint64
	msgID    id.ID
}

// insert stages an index entry on the batch. Sequence must be fresh: a
// message re-entering the queue gets a new sequence, never its old one.
func (ix prioIndex) insert(b *pebble.Batch, priority uint32, seq uint64, msgID id.ID) error {
	return b.Set(ReadyKey(ix.queue, priority, seq), msgID.Bytes(), nil)
}

// remove stages deletion of an index entry on the batch.
func (ix prioIndex) remove(b *pebble.Batch, e readyEntry) error {
	return b.Delete(e.key, nil)
}

// first returns the highest-precedence entry without removing it. ok is
// false when the index is empty.
func (ix prioIndex) first() (readyEntry, bool, error) {
	prefix := ReadyPrefix(ix.queue)
	lo, hi := keyRange(prefix)
	it, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return readyEntry{}, false, storeErr("ready iter", err)
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		prio, seq, valid := parseReadyKey(it.Key(), prefix)
		if !valid {
			continue
		}
		msgID, err := id.FromBytes(it.Value())
		if err != nil {
			continue
		}
		return readyEntry{
			key:      append([]byte(nil), it.Key()...),
			priority: prio,
			seq:      seq,
			msgID:    msgID,
		}, true, nil
	}
	return readyEntry{}, false, nil
}

// count scans the index, used to rebuild the queued length after a restart.
func (ix prioIndex) count() (int, error) {
	lo, hi := keyRange(ReadyPrefix(ix.queue))
	it, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, storeErr("ready iter", err)
	}
	defer it.Close()

	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}
