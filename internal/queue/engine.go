package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
	"github.com/mood-agency/relay/pkg/id"
	logpkg "github.com/mood-agency/relay/pkg/log"
)

// ReasonLeaseExpired marks failures recorded by the sweeper when a consumer
// never resolved its lease.
const ReasonLeaseExpired = "lease expired"

// Options configures an Engine.
type Options struct {
	// VisibilityTimeout is how long a dequeued message stays leased before the
	// sweeper may reclaim it. Default 30s.
	VisibilityTimeout time.Duration
	// MaxAttempts is the delivery ceiling; a message whose attempts reach it
	// on failure is dead-lettered. Default 3.
	MaxAttempts int
	// SweepInterval is how often the sweeper scans for expired leases. Must be
	// shorter than VisibilityTimeout. Default 2s.
	SweepInterval time.Duration
	// SweepBatch caps reclaims per sweep tick. Default 256.
	SweepBatch int
	// Logger receives engine events. Defaults to an info-level logger.
	Logger logpkg.Logger
}

// Status is a point-in-time snapshot of queue lengths and lifetime counters.
type Status struct {
	Queued         int    `json:"queued"`
	Processing     int    `json:"processing"`
	DeadLettered   int    `json:"deadLettered"`
	TotalProcessed uint64 `json:"totalProcessed"`
	TotalFailed    uint64 `json:"totalFailed"`
}

// Engine orchestrates enqueue/dequeue/ack/fail over the durable store and
// owns the retry and dead-letter policy.
//
// Every message is in exactly one of three membership sets: the ready index
// (queued), the lease tracker (processing), or the dead letter set. Each
// transition between them is a single Pebble batch committed under the engine
// mutex, so no failure path can leave a message in zero or two sets.
type Engine struct {
	db     *pebblestore.DB
	queue  string
	logger logpkg.Logger
	gen    *id.Generator

	visibility  time.Duration
	maxAttempts int
	sweepIntv   time.Duration
	sweepBatch  int

	ready  prioIndex
	leases leaseTracker

	mu             sync.Mutex
	lastSeq        uint64
	queuedLen      int
	processingLen  int
	deadLen        int
	totalProcessed uint64
	totalFailed    uint64
	notifyCh       chan struct{}

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Open initializes an Engine for the named queue, restoring lastSeq, lifetime
// counters, and membership-set lengths from the store.
func Open(db *pebblestore.DB, queueName string, opts Options) (*Engine, error) {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 2 * time.Second
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 256
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	e := &Engine{
		db:          db,
		queue:       queueName,
		logger:      opts.Logger.With(logpkg.Component("queue"), logpkg.Str("queue", queueName)),
		gen:         id.NewGenerator(),
		visibility:  opts.VisibilityTimeout,
		maxAttempts: opts.MaxAttempts,
		sweepIntv:   opts.SweepInterval,
		sweepBatch:  opts.SweepBatch,
		ready:       prioIndex{db: db, queue: queueName},
		leases:      leaseTracker{db: db, queue: queueName},
		notifyCh:    make(chan struct{}),
	}

	if data, err := db.Get(MetaKey(queueName)); err == nil {
		if m, ok := decodeMeta(data); ok {
			e.lastSeq = m.LastSeq
			e.totalProcessed = m.TotalProcessed
			e.totalFailed = m.TotalFailed
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, storeErr("meta get", err)
	}

	var err error
	if e.queuedLen, err = e.ready.count(); err != nil {
		return nil, err
	}
	if e.processingLen, err = e.leases.count(); err != nil {
		return nil, err
	}
	if e.deadLen, err = e.countDeadLetters(); err != nil {
		return nil, err
	}
	return e, nil
}

// Close stops the background sweeper.
func (e *Engine) Close() error {
	e.StopSweeper()
	return nil
}

// Enqueue persists a new message and makes it eligible for dequeue. If
// nowMs <= 0, the current time is used.
func (e *Engine) Enqueue(ctx context.Context, msgType string, payload []byte, priority uint32, nowMs int64) (id.ID, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	msg := &Message{
		ID:          e.gen.Next(),
		Type:        msgType,
		Payload:     append([]byte(nil), payload...),
		Priority:    priority,
		Attempts:    0,
		CreatedAtMs: nowMs,
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return id.Zero, err
	}

	seq := e.lastSeq + 1
	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(e.queue, msg.ID), data, nil); err != nil {
		return id.Zero, storeErr("msg set", err)
	}
	if err := e.ready.insert(b, priority, seq, msg.ID); err != nil {
		return id.Zero, storeErr("ready insert", err)
	}
	e.stageMeta(b, seq, e.totalProcessed, e.totalFailed)
	if err := e.db.CommitBatch(ctx, b); err != nil {
		return id.Zero, storeErr("commit", err)
	}

	e.lastSeq = seq
	e.queuedLen++
	e.wakeLocked()
	return msg.ID, nil
}

// Dequeue hands out the highest-precedence queued message under a fresh
// lease, or nil when none is available. When wait > 0 and the queue is empty,
// the call blocks until a message arrives, wait elapses, or ctx is cancelled;
// timeout and cancellation both yield a nil message. If nowMs <= 0, the
// current time is used for the lease deadline.
func (e *Engine) Dequeue(ctx context.Context, wait time.Duration, nowMs int64) (*Message, error) {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	for {
		msg, waitCh, err := e.tryDequeue(ctx, nowMs)
		if err != nil || msg != nil {
			return msg, err
		}
		if wait <= 0 {
			return nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// tryDequeue pops at most one message. When the index is empty it returns the
// channel the caller can wait on for the next insert.
func (e *Engine) tryDequeue(ctx context.Context, nowMs int64) (*Message, <-chan struct{}, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		entry, ok, err := e.ready.first()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, e.notifyCh, nil
		}

		data, err := e.db.Get(MsgKey(e.queue, entry.msgID))
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				if err := e.dropOrphanLocked(ctx, entry); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, storeErr("msg get", err)
		}
		msg, err := decodeMessage(data)
		if err != nil {
			if err := e.dropOrphanLocked(ctx, entry); err != nil {
				return nil, nil, err
			}
			continue
		}

		lease := Lease{
			MsgID:      entry.msgID,
			Token:      uuid.NewString(),
			DeadlineMs: nowMs + e.visibility.Milliseconds(),
		}
		b := e.db.NewBatch()
		if err := e.ready.remove(b, entry); err != nil {
			b.Close()
			return nil, nil, storeErr("ready remove", err)
		}
		if err := e.leases.lease(b, lease); err != nil {
			b.Close()
			return nil, nil, storeErr("lease set", err)
		}
		if err := e.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return nil, nil, storeErr("commit", err)
		}
		b.Close()

		e.queuedLen--
		e.processingLen++
		return msg, nil, nil
	}
}

// dropOrphanLocked removes an index entry whose message record is gone or
// undecodable. Counted as queued until now, so the length shrinks with it.
func (e *Engine) dropOrphanLocked(ctx context.Context, entry readyEntry) error {
	b := e.db.NewBatch()
	defer b.Close()
	if err := e.ready.remove(b, entry); err != nil {
		return storeErr("ready remove", err)
	}
	if err := e.db.CommitBatch(ctx, b); err != nil {
		return storeErr("commit", err)
	}
	if e.queuedLen > 0 {
		e.queuedLen--
	}
	e.logger.Warn("dropped orphaned ready entry", logpkg.Str("msg_id", entry.msgID.String()))
	return nil
}

// Ack resolves a lease as processed: the message leaves active tracking and
// totalProcessed grows by one. Returns ErrNotLeased when the message is not
// currently processing, which makes duplicate acks harmless.
func (e *Engine) Ack(ctx context.Context, msgID id.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.leases.get(msgID)
	if err != nil {
		return err
	}

	b := e.db.NewBatch()
	defer b.Close()
	if err := e.leases.release(b, l); err != nil {
		return storeErr("lease release", err)
	}
	if err := b.Delete(MsgKey(e.queue, msgID), nil); err != nil {
		return storeErr("msg delete", err)
	}
	e.stageMeta(b, e.lastSeq, e.totalProcessed+1, e.totalFailed)
	if err := e.db.CommitBatch(ctx, b); err != nil {
		return storeErr("commit", err)
	}

	e.processingLen--
	e.totalProcessed++
	return nil
}

// Fail resolves a lease as failed. The attempt counter grows by one; below
// MaxAttempts the message re-enters the queue at a fresh sequence (behind
// queued work of equal priority), otherwise it is dead-lettered and the
// returned bool is true. Returns ErrNotLeased when the message is not
// currently processing. If nowMs <= 0, the current time is used.
func (e *Engine) Fail(ctx context.Context, msgID id.ID, reason string, nowMs int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, err := e.leases.get(msgID)
	if err != nil {
		return false, err
	}
	return e.resolveFailureLocked(ctx, l, reason, nowMs)
}

// resolveFailureLocked applies the shared Fail / lease-expiry transition.
// Caller holds e.mu and has verified the lease.
func (e *Engine) resolveFailureLocked(ctx context.Context, l Lease, reason string, nowMs int64) (bool, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	data, err := e.db.Get(MsgKey(e.queue, l.MsgID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			// Lease without a message record: clean up the lease and report.
			b := e.db.NewBatch()
			defer b.Close()
			if err := e.leases.release(b, l); err != nil {
				return false, storeErr("lease release", err)
			}
			if err := e.db.CommitBatch(ctx, b); err != nil {
				return false, storeErr("commit", err)
			}
			e.processingLen--
			return false, ErrNotFound
		}
		return false, storeErr("msg get", err)
	}
	msg, err := decodeMessage(data)
	if err != nil {
		return false, storeErr("msg decode", err)
	}
	msg.Attempts++

	b := e.db.NewBatch()
	defer b.Close()
	if err := e.leases.release(b, l); err != nil {
		return false, storeErr("lease release", err)
	}

	if msg.Attempts >= e.maxAttempts {
		dl := &DeadLetter{Message: *msg, Reason: reason, FailedAtMs: nowMs}
		dlData, err := encodeDeadLetter(dl)
		if err != nil {
			return false, err
		}
		if err := b.Delete(MsgKey(e.queue, msg.ID), nil); err != nil {
			return false, storeErr("msg delete", err)
		}
		if err := b.Set(DLQKey(e.queue, msg.ID), dlData, nil); err != nil {
			return false, storeErr("dlq set", err)
		}
		e.stageMeta(b, e.lastSeq, e.totalProcessed, e.totalFailed+1)
		if err := e.db.CommitBatch(ctx, b); err != nil {
			return false, storeErr("commit", err)
		}
		e.processingLen--
		e.deadLen++
		e.totalFailed++
		e.logger.Info("message dead-lettered",
			logpkg.Str("msg_id", msg.ID.String()),
			logpkg.Str("type", msg.Type),
			logpkg.Int("attempts", msg.Attempts),
			logpkg.Str("reason", reason),
		)
		return true, nil
	}

	updated, err := encodeMessage(msg)
	if err != nil {
		return false, err
	}
	seq := e.lastSeq + 1
	if err := b.Set(MsgKey(e.queue, msg.ID), updated, nil); err != nil {
		return false, storeErr("msg set", err)
	}
	if err := e.ready.insert(b, msg.Priority, seq, msg.ID); err != nil {
		return false, storeErr("ready insert", err)
	}
	e.stageMeta(b, seq, e.totalProcessed, e.totalFailed)
	if err := e.db.CommitBatch(ctx, b); err != nil {
		return false, storeErr("commit", err)
	}

	e.lastSeq = seq
	e.processingLen--
	e.queuedLen++
	e.wakeLocked()
	return false, nil
}

// ReclaimExpired scans for leases expired before nowMs and applies the
// failure transition to each, up to max. Every reclaim re-checks the lease
// under the engine mutex: a message acked, failed, or re-leased between scan
// and reclaim is skipped. If nowMs <= 0, the current time is used.
func (e *Engine) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	expired, err := e.leases.expiredBefore(nowMs, max)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, l := range expired {
		e.mu.Lock()
		cur, err := e.leases.get(l.MsgID)
		if err != nil || cur.Token != l.Token || cur.DeadlineMs != l.DeadlineMs {
			e.mu.Unlock()
			continue
		}
		if _, err := e.resolveFailureLocked(ctx, cur, ReasonLeaseExpired, nowMs); err != nil {
			e.mu.Unlock()
			return reclaimed, err
		}
		reclaimed++
		e.mu.Unlock()
	}
	return reclaimed, nil
}

// Status returns a snapshot of queue lengths and lifetime counters.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Queued:         e.queuedLen,
		Processing:     e.processingLen,
		DeadLettered:   e.deadLen,
		TotalProcessed: e.totalProcessed,
		TotalFailed:    e.totalFailed,
	}
}

// ListDeadLetters returns up to limit dead-lettered records, oldest first.
func (e *Engine) ListDeadLetters(limit int) ([]DeadLetter, error) {
	lo, hi := keyRange(DLQPrefix(e.queue))
	it, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("dlq iter", err)
	}
	defer it.Close()

	var out []DeadLetter
	for ok := it.First(); ok && (limit <= 0 || len(out) < limit); ok = it.Next() {
		dl, err := decodeDeadLetter(it.Value())
		if err != nil {
			continue
		}
		out = append(out, *dl)
	}
	return out, nil
}

// PeekReady returns up to limit queued messages in dequeue order without
// leasing them.
func (e *Engine) PeekReady(limit int) ([]Message, error) {
	prefix := ReadyPrefix(e.queue)
	lo, hi := keyRange(prefix)
	it, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("ready iter", err)
	}
	defer it.Close()

	var out []Message
	for ok := it.First(); ok && (limit <= 0 || len(out) < limit); ok = it.Next() {
		msgID, err := id.FromBytes(it.Value())
		if err != nil {
			continue
		}
		data, err := e.db.Get(MsgKey(e.queue, msgID))
		if err != nil {
			continue
		}
		msg, err := decodeMessage(data)
		if err != nil {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (e *Engine) countDeadLetters() (int, error) {
	lo, hi := keyRange(DLQPrefix(e.queue))
	it, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, storeErr("dlq iter", err)
	}
	defer it.Close()

	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n, nil
}

// stageMeta stages the counters record on the batch so it commits atomically
// with the transition that changed them.
func (e *Engine) stageMeta(b *pebble.Batch, lastSeq, processed, failed uint64) {
	_ = b.Set(MetaKey(e.queue), encodeMeta(metaRecord{
		LastSeq:        lastSeq,
		TotalProcessed: processed,
		TotalFailed:    failed,
	}), nil)
}

// wakeLocked wakes every blocked Dequeue. Caller holds e.mu.
func (e *Engine) wakeLocked() {
	close(e.notifyCh)
	e.notifyCh = make(chan struct{})
}
