// Package bcache is a cache of sector buffers with exclusive ownership.
//
// Bread returns a buffer whose contents match the sector, held busy by the
// caller; no other thread can touch that (dev, sector) until Brelse. The
// busy discipline comes from a lockmap keyed by a flattened (dev, sector)
// id, so holding a buffer never blocks access to other sectors. All device
// traffic — filling a missing buffer, writing one back — goes through the
// controller's SubmitAndWait.
//
// Pinned buffers belong to an uncommitted transaction and are never
// evicted or reused until the log manager unpins them.
package bcache

import (
	"sync"

	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/common"
	"github.com/emberos/storage/ide"
	"github.com/emberos/storage/lockmap"
	"github.com/emberos/storage/util"
)

type Cache struct {
	mu   *sync.Mutex
	busy *lockmap.LockMap
	ctlr *ide.Ctlr

	bufs   map[uint64]*buf.Buf
	nslots uint64
}

func MkCache(ctlr *ide.Ctlr, nslots uint64) *Cache {
	if nslots == 0 {
		panic("bcache: zero-sized cache")
	}
	return &Cache{
		mu:     new(sync.Mutex),
		busy:   lockmap.MkLockMap(),
		ctlr:   ctlr,
		bufs:   make(map[uint64]*buf.Buf),
		nslots: nslots,
	}
}

func flatid(dev common.Devnum, sector common.Bnum) uint64 {
	return uint64(dev)<<56 | sector
}

// evict drops one reusable buffer. Caller holds c.mu.
func (c *Cache) evict() {
	for id, b := range c.bufs {
		if !b.Busy && !b.Pinned() && !b.IsDirty() {
			delete(c.bufs, id)
			return
		}
	}
	panic("bcache: no free buffers")
}

// acquire returns the buffer for (dev, sector) with the caller as its
// exclusive owner. The buffer may not be valid yet.
func (c *Cache) acquire(dev common.Devnum, sector common.Bnum) *buf.Buf {
	id := flatid(dev, sector)
	c.busy.Acquire(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bufs[id]
	if !ok {
		if uint64(len(c.bufs)) >= c.nslots {
			c.evict()
		}
		b = buf.MkBuf(dev, sector)
		c.bufs[id] = b
	}
	b.Busy = true
	return b
}

// Bread returns the buffer for (dev, sector), exclusively owned and with
// valid contents, reading it from the device on a cache miss. A device
// read fault releases ownership and surfaces as an error.
func (c *Cache) Bread(dev common.Devnum, sector common.Bnum) (*buf.Buf, error) {
	b := c.acquire(dev, sector)
	if !b.Valid {
		util.DPrintf(4, "bcache: miss %v\n", b)
		if err := c.ctlr.SubmitAndWait(b, false); err != nil {
			c.Brelse(b)
			return nil, err
		}
	}
	return b, nil
}

// Bwrite makes b's contents durable at its home sector. Caller must own b.
func (c *Cache) Bwrite(b *buf.Buf) {
	if !b.Busy {
		panic("bcache: bwrite of non-busy buf")
	}
	b.SetDirty()
	if err := c.ctlr.SubmitAndWait(b, true); err != nil {
		panic("bcache: write failed: " + err.Error())
	}
}

// Brelse gives up exclusive ownership of b.
func (c *Cache) Brelse(b *buf.Buf) {
	if !b.Busy {
		panic("bcache: release of non-busy buf")
	}
	c.mu.Lock()
	b.Busy = false
	c.mu.Unlock()
	c.busy.Release(flatid(b.Dev, b.Sector))
}

// Pin keeps b cached until a matching Unpin, even after release.
func (c *Cache) Pin(b *buf.Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.Pin()
}

func (c *Cache) Unpin(b *buf.Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b.Unpin()
}
