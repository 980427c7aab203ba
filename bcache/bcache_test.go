package bcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/common"
	"github.com/emberos/storage/disk"
	"github.com/emberos/storage/ide"
)

func mkSector(b byte) []byte {
	data := make([]byte, common.SectorSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func mkCache(nslots uint64) (*ide.Sim, *Cache, disk.Disk) {
	d := disk.NewMemDisk(1000)
	s := ide.NewSim(d, nil)
	ctlr := ide.NewCtlr(s)
	s.OnIntr(ctlr.Intr)
	return s, MkCache(ctlr, nslots), d
}

func TestBreadCachesSector(t *testing.T) {
	s, c, d := mkCache(10)
	require.NoError(t, d.Write(5, mkSector(0x5a)))

	b, err := c.Bread(0, 5)
	require.NoError(t, err)
	assert.Equal(t, mkSector(0x5a), b.Data)
	c.Brelse(b)

	b, err = c.Bread(0, 5)
	require.NoError(t, err)
	c.Brelse(b)

	reads, _ := s.Counts()
	assert.Equal(t, uint64(1), reads, "second Bread must hit the cache")
}

func TestBwriteDurable(t *testing.T) {
	_, c, d := mkCache(10)

	b, err := c.Bread(0, 9)
	require.NoError(t, err)
	copy(b.Data, mkSector(0x77))
	c.Bwrite(b)
	assert.False(t, b.IsDirty())
	c.Brelse(b)

	got, err := d.Read(9)
	require.NoError(t, err)
	assert.Equal(t, mkSector(0x77), got)
}

func TestExclusiveOwnership(t *testing.T) {
	_, c, _ := mkCache(10)

	b, err := c.Bread(0, 3)
	require.NoError(t, err)

	acquired := make(chan *buf.Buf, 1)
	go func() {
		b2, err := c.Bread(0, 3)
		if err == nil {
			acquired <- b2
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Bread acquired a busy buffer")
	case <-time.After(50 * time.Millisecond):
	}

	c.Brelse(b)
	select {
	case b2 := <-acquired:
		c.Brelse(b2)
	case <-time.After(time.Second):
		t.Fatal("second Bread never woke after release")
	}
}

func TestPinPreventsEviction(t *testing.T) {
	s, c, _ := mkCache(2)

	b1, err := c.Bread(0, 1)
	require.NoError(t, err)
	c.Pin(b1)
	c.Brelse(b1)

	b2, err := c.Bread(0, 2)
	require.NoError(t, err)
	c.Brelse(b2)

	// forces an eviction; only sector 2 is a candidate
	b3, err := c.Bread(0, 3)
	require.NoError(t, err)
	c.Brelse(b3)

	reads, _ := s.Counts()
	require.Equal(t, uint64(3), reads)

	b1, err = c.Bread(0, 1)
	require.NoError(t, err)
	reads, _ = s.Counts()
	assert.Equal(t, uint64(3), reads, "pinned buffer must stay cached")
	c.Unpin(b1)
	c.Brelse(b1)

	b2, err = c.Bread(0, 2)
	require.NoError(t, err)
	reads, _ = s.Counts()
	assert.Equal(t, uint64(4), reads, "unpinned buffer was evicted")
	c.Brelse(b2)
}

func TestReadFaultSurfaces(t *testing.T) {
	s, c, _ := mkCache(10)

	s.FailReads(1)
	_, err := c.Bread(0, 8)
	assert.Equal(t, ide.ErrReadFault, err)

	// ownership was released on failure; a retry succeeds
	b, err := c.Bread(0, 8)
	require.NoError(t, err)
	assert.True(t, b.Valid)
	c.Brelse(b)
}

func TestAllBusyPanics(t *testing.T) {
	_, c, _ := mkCache(1)

	b, err := c.Bread(0, 1)
	require.NoError(t, err)
	defer c.Brelse(b)

	assert.Panics(t, func() { c.Bread(0, 2) })
}
