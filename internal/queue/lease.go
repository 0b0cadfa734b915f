package queue

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
	"github.com/mood-agency/relay/pkg/id"
)

// Lease is a time-bounded exclusive claim on a message. Token identifies this
// particular claim: the sweeper only reclaims a lease whose token it observed
// expired, so a message re-leased between scan and reclaim is left alone.
type Lease struct {
	MsgID      id.ID  `json:"msgId"`
	Token      string `json:"token"`
	DeadlineMs int64  `json:"deadlineMs"`
}

// leaseTracker stores in-flight messages and their visibility deadlines. A
// lease lives under lease/{id} with a companion entry in the deadline-ordered
// lease_idx/ so expiry scans never touch unexpired leases.
type leaseTracker struct {
	db    *pebblestore.DB
	queue string
}

// lease stages a new lease on the batch.
func (lt leaseTracker) lease(b *pebble.Batch, l Lease) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if err := b.Set(LeaseKey(lt.queue, l.MsgID), data, nil); err != nil {
		return err
	}
	return b.Set(LeaseIdxKey(lt.queue, l.DeadlineMs, l.MsgID), nil, nil)
}

// release stages removal of a lease and its expiry index entry.
func (lt leaseTracker) release(b *pebble.Batch, l Lease) error {
	if err := b.Delete(LeaseKey(lt.queue, l.MsgID), nil); err != nil {
		return err
	}
	return b.Delete(LeaseIdxKey(lt.queue, l.DeadlineMs, l.MsgID), nil)
}

// get loads the current lease for a message, or ErrNotLeased.
func (lt leaseTracker) get(msgID id.ID) (Lease, error) {
	data, err := lt.db.Get(LeaseKey(lt.queue, msgID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Lease{}, ErrNotLeased
		}
		return Lease{}, storeErr("lease get", err)
	}
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return Lease{}, storeErr("lease decode", err)
	}
	return l, nil
}

// expiredBefore returns up to limit leases whose deadline elapsed before
// nowMs, oldest first. It removes nothing: reclaiming is the caller's job,
// under its own critical section, so the scan is idempotent and restartable.
func (lt leaseTracker) expiredBefore(nowMs int64, limit int) ([]Lease, error) {
	prefix := LeaseIdxPrefix(lt.queue)
	lo, hi := keyRange(prefix)
	it, err := lt.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("lease_idx iter", err)
	}
	defer it.Close()

	var out []Lease
	for ok := it.First(); ok && (limit <= 0 || len(out) < limit); ok = it.Next() {
		deadline, msgID, valid := parseLeaseIdxKey(it.Key(), prefix)
		if !valid {
			continue
		}
		// Index is deadline-ordered, so the first unexpired entry ends the scan.
		if deadline >= nowMs {
			break
		}
		l, err := lt.get(msgID)
		if err != nil {
			// Resolved between index write and now; index entry is gone too
			// or will be cleaned by the owning transition.
			continue
		}
		if l.DeadlineMs != deadline {
			// Stale index entry for a superseded lease.
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// count scans lease records, used to rebuild the processing length on open.
func (lt leaseTracker) count() (int, error) {
	lo, hi := keyRange(LeasePrefix(lt.queue))
	it, err := lt.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, storeErr("lease iter", err)
	}
	defer it.Close()

	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}
