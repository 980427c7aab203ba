// Package wal is a write-ahead log giving filesystem operations atomic,
// crash-consistent multi-sector updates.
//
// Concurrent operations bracket their sector modifications with Begin and
// End and route every modified buffer through Write. All operations active
// between two quiescent points (outstanding 0 -> ... -> 0) form one
// transaction; the last End to leave drives the commit. Commit copies the
// modified sectors into the log region, durably records the header naming
// them — the atomicity point — and only then installs them at their home
// sectors. A crash at any step is repaired at the next startup by redoing
// the install from the last durable header, so no transaction is ever
// partially visible at home locations.
//
// Admission control in Begin reserves MaxOpBlocks log slots per active
// operation; an operation that might overflow the log sleeps until a
// commit frees space. An admitted operation therefore never fails
// mid-flight for lack of log space.
package wal

import (
	"sync"

	"github.com/emberos/storage/bcache"
	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/common"
	"github.com/emberos/storage/util"
)

// Log is the write-ahead log manager for one log region.
type Log struct {
	mu *sync.Mutex
	// cond is broadcast whenever the admission predicates may have
	// changed: an operation ended, or a commit finished. Waiters re-check
	// their predicate after every wake.
	cond *sync.Cond

	bc  *bcache.Cache
	dev common.Devnum

	start common.Bnum // sector of the on-disk header
	size  uint64      // sectors in the log region, header included

	outstanding uint64 // operations between Begin and End
	committing  bool   // a commit is in flight; admissions blocked

	// in-memory header of the current transaction; the array is
	// deliberately bounded, the bound backs the admission check
	count   uint64
	sectors [common.LogSize]common.Bnum
}

// MkLog returns a log manager for the region [start, start+size) on dev,
// running crash recovery before any operation can be admitted.
func MkLog(bc *bcache.Cache, dev common.Devnum, start common.Bnum, size uint64) *Log {
	if common.LogSize > common.HdrSlots {
		panic("wal: header does not fit in one sector")
	}
	if size < common.LogSize+1 {
		panic("wal: log region too small")
	}
	mu := new(sync.Mutex)
	l := &Log{
		mu:    mu,
		cond:  sync.NewCond(mu),
		bc:    bc,
		dev:   dev,
		start: start,
		size:  size,
	}
	l.recover()
	return l
}

// Begin admits one operation, sleeping while a commit is in flight or
// while admitting it could overflow the log.
func (l *Log) Begin() {
	l.mu.Lock()
	for {
		if l.committing {
			l.cond.Wait()
		} else if l.count+(l.outstanding+1)*common.MaxOpBlocks > common.LogSize {
			// this op might exhaust log space; wait for a commit
			l.cond.Wait()
		} else {
			l.outstanding += 1
			break
		}
	}
	l.mu.Unlock()
}

// End retires one operation. If it was the last outstanding one, this
// caller becomes the sole committer for the transaction.
func (l *Log) End() {
	var doCommit = false
	l.mu.Lock()
	if l.outstanding == 0 {
		panic("wal: End outside of op")
	}
	l.outstanding -= 1
	if l.committing {
		panic("wal: commit already in progress")
	}
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// Begin may be waiting for log space.
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		// commit does blocking disk I/O; never hold the metadata
		// lock across it. committing keeps everyone else out.
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Write records b's sector as part of the current transaction and pins it
// in the cache until the commit installs it. Repeated writes to one sector
// absorb into a single slot.
//
// Calling Write outside a Begin/End bracket, or beyond the log's capacity,
// is a contract violation.
func (l *Log) Write(b *buf.Buf) {
	l.mu.Lock()
	if l.count >= common.LogSize || l.count >= l.size-1 {
		panic("wal: too big a transaction")
	}
	if l.outstanding < 1 {
		panic("wal: Write outside of op")
	}

	var i uint64
	for i = 0; i < l.count; i++ {
		if l.sectors[i] == b.Sector {
			// log absorption
			break
		}
	}
	l.sectors[i] = b.Sector
	if i == l.count {
		util.DPrintf(3, "wal: log %v in slot %d\n", b, i)
		l.count += 1
		l.bc.Pin(b)
	} else {
		util.DPrintf(3, "wal: absorb %v in slot %d\n", b, i)
	}
	b.SetDirty()
	l.mu.Unlock()
}
