// buf defines the in-memory image of one disk sector.
//
// A Buf moves between three owners: the cache that allocated it, the single
// caller currently holding it busy, and (transiently) the device driver
// while a request on it is in flight. Flags follow the ownership: only the
// busy holder or the driver's interrupt path may touch Valid and the dirty
// bit; the pin count is guarded by the cache's lock.
package buf

import (
	"fmt"

	"github.com/emberos/storage/common"
)

type Buf struct {
	Dev    common.Devnum
	Sector common.Bnum
	Data   []byte

	// Valid means Data matches the sector's durable content, or is newer
	// than it if dirty is also set.
	Valid bool

	// Busy marks exclusive ownership by one caller, between the cache's
	// acquire and release.
	Busy bool

	dirty bool
	pins  uint32
}

func MkBuf(dev common.Devnum, sector common.Bnum) *Buf {
	return &Buf{
		Dev:    dev,
		Sector: sector,
		Data:   make([]byte, common.SectorSize),
	}
}

func (b *Buf) String() string {
	return fmt.Sprintf("buf(%d,%d)", b.Dev, b.Sector)
}

func (b *Buf) IsDirty() bool {
	return b.dirty
}

func (b *Buf) SetDirty() {
	b.dirty = true
}

func (b *Buf) ClearDirty() {
	b.dirty = false
}

// Pin prevents the cache from evicting b until a matching Unpin. Caller
// must hold the cache lock.
func (b *Buf) Pin() {
	b.pins += 1
}

func (b *Buf) Unpin() {
	if b.pins == 0 {
		panic("buf: unpin of unpinned buf")
	}
	b.pins -= 1
}

func (b *Buf) Pinned() bool {
	return b.pins > 0
}
