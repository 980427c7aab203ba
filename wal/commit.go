package wal

import (
	"github.com/tchajed/marshal"

	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/common"
	"github.com/emberos/storage/util"
)

// bread fetches a sector for the commit or recovery path. A device fault
// here cannot be surfaced to any operation and would break the durability
// protocol midway, so it is fatal.
func (l *Log) bread(sector common.Bnum) *buf.Buf {
	b, err := l.bc.Bread(l.dev, sector)
	if err != nil {
		panic("wal: read failed during commit: " + err.Error())
	}
	return b
}

// logSlot is the on-disk sector holding slot i of the log region.
func (l *Log) logSlot(i uint64) common.Bnum {
	return l.start + 1 + i
}

// readHead loads the on-disk header into memory. Only used by recovery.
func (l *Log) readHead() {
	b := l.bread(l.start)
	dec := marshal.NewDec(b.Data)
	l.count = dec.GetInt()
	copy(l.sectors[:], dec.GetInts(common.LogSize))
	l.bc.Brelse(b)
	if l.count > common.LogSize {
		panic("wal: corrupt log header")
	}
}

// writeHead persists the in-memory header. The first writeHead of a
// commit is the transaction's atomicity point: once it is durable the
// transaction is committed no matter what happens next.
func (l *Log) writeHead() {
	b := l.bread(l.start)
	enc := marshal.NewEnc(common.SectorSize)
	enc.PutInt(l.count)
	enc.PutInts(l.sectors[:])
	copy(b.Data, enc.Finish())
	l.bc.Bwrite(b)
	l.bc.Brelse(b)
}

// writeLog copies each logged sector's cached content into its log slot.
func (l *Log) writeLog() {
	for i := uint64(0); i < l.count; i++ {
		to := l.bread(l.logSlot(i))
		from := l.bread(l.sectors[i])
		copy(to.Data, from.Data)
		l.bc.Bwrite(to)
		l.bc.Brelse(from)
		l.bc.Brelse(to)
	}
}

// installTrans copies each logged sector from its log slot to its home
// location. Idempotent: safe to repeat verbatim after a crash. During
// recovery the home buffers were never pinned, so there is nothing to
// unpin.
func (l *Log) installTrans(recovering bool) {
	for i := uint64(0); i < l.count; i++ {
		lbuf := l.bread(l.logSlot(i))
		dbuf := l.bread(l.sectors[i])
		copy(dbuf.Data, lbuf.Data)
		l.bc.Bwrite(dbuf)
		if !recovering {
			l.bc.Unpin(dbuf)
		}
		l.bc.Brelse(lbuf)
		l.bc.Brelse(dbuf)
	}
}

// commit makes the current transaction durable and installs it. Runs with
// outstanding == 0 and committing set, so the header is private to it; the
// metadata lock is not held since every step blocks on disk I/O.
//
// The steps are strictly ordered; each completes before the next begins.
func (l *Log) commit() {
	if l.count == 0 {
		return
	}
	util.DPrintf(2, "wal: commit %d sectors\n", l.count)
	l.writeLog()
	l.writeHead() // the real commit
	l.installTrans(false)
	l.count = 0
	l.writeHead() // retire the transaction
}

// recover redoes the last durable transaction, if any, then clears the
// header. Runs once at startup, before any operation is admitted. A crash
// during recovery itself is safe: the redo is idempotent and the header
// stays non-empty until the final writeHead lands.
func (l *Log) recover() {
	l.readHead()
	if l.count > 0 {
		util.DPrintf(1, "wal: recovering %d sectors\n", l.count)
		l.installTrans(true)
	}
	l.count = 0
	l.writeHead()
}
