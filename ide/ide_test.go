package ide

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/common"
	"github.com/emberos/storage/disk"
)

func mkSector(b byte) []byte {
	data := make([]byte, common.SectorSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func mkBusyBuf(dev common.Devnum, sector common.Bnum) *buf.Buf {
	b := buf.MkBuf(dev, sector)
	b.Busy = true
	return b
}

func mkCtlr(secondary disk.Disk) (*Sim, *Ctlr) {
	d := disk.NewMemDisk(1000)
	s := NewSim(d, secondary)
	c := NewCtlr(s)
	s.OnIntr(c.Intr)
	return s, c
}

func (c *Ctlr) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for q := c.queue; q != nil; q = q.next {
		n++
	}
	return n
}

func TestProbe(t *testing.T) {
	_, c := mkCtlr(nil)
	assert.True(t, c.Present(0))
	assert.False(t, c.Present(1), "no secondary drive attached")

	_, c = mkCtlr(disk.NewMemDisk(100))
	assert.True(t, c.Present(0))
	assert.True(t, c.Present(1))
}

func TestWriteThenRead(t *testing.T) {
	_, c := mkCtlr(nil)

	w := mkBusyBuf(0, 7)
	copy(w.Data, mkSector(0xab))
	w.SetDirty()
	require.NoError(t, c.SubmitAndWait(w, true))
	assert.True(t, w.Valid)
	assert.False(t, w.IsDirty(), "durable write clears the dirty bit")

	r := mkBusyBuf(0, 7)
	require.NoError(t, c.SubmitAndWait(r, false))
	assert.True(t, r.Valid)
	assert.Equal(t, mkSector(0xab), r.Data)
}

func TestAbsentDrivePanics(t *testing.T) {
	_, c := mkCtlr(nil)
	b := mkBusyBuf(1, 0)
	assert.Panics(t, func() { c.SubmitAndWait(b, false) },
		"addressing an unprobed drive is a contract violation")
}

func TestNotBusyPanics(t *testing.T) {
	_, c := mkCtlr(nil)
	b := buf.MkBuf(0, 0)
	assert.Panics(t, func() { c.SubmitAndWait(b, false) })
}

func TestReadFault(t *testing.T) {
	s, c := mkCtlr(nil)

	s.FailReads(1)
	b := mkBusyBuf(0, 3)
	err := c.SubmitAndWait(b, false)
	assert.Equal(t, ErrReadFault, err)
	assert.False(t, b.Valid, "faulted read must not validate the buffer")

	// the fault is not sticky
	require.NoError(t, c.SubmitAndWait(b, false))
	assert.True(t, b.Valid)
}

func TestSpuriousIntr(t *testing.T) {
	_, c := mkCtlr(nil)
	assert.NotPanics(t, func() { c.Intr() })
}

func TestFIFOOrder(t *testing.T) {
	s, c := mkCtlr(nil)
	sectors := []common.Bnum{11, 5, 29, 2}

	s.Stall()
	var wg sync.WaitGroup
	for i, sector := range sectors {
		i, sector := i, sector
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := mkBusyBuf(0, sector)
			copy(b.Data, mkSector(byte(sector)))
			b.SetDirty()
			assert.NoError(t, c.SubmitAndWait(b, true))
		}()
		// make the enqueue order deterministic
		require.Eventually(t, func() bool { return c.queueLen() == i+1 },
			time.Second, time.Millisecond)
	}
	s.Unstall()
	wg.Wait()

	trace := s.Trace()
	require.Len(t, trace, len(sectors))
	for i, sector := range sectors {
		assert.Equal(t, sector, trace[i].Sector, "service order is FIFO")
		assert.True(t, trace[i].Write)
	}
}

func TestEachWakeGetsOwnCompletion(t *testing.T) {
	s, c := mkCtlr(nil)

	// seed distinct contents
	for i := common.Bnum(0); i < 8; i++ {
		b := mkBusyBuf(0, 100+i)
		copy(b.Data, mkSector(byte(i)))
		b.SetDirty()
		require.NoError(t, c.SubmitAndWait(b, true))
	}

	s.Stall()
	var wg sync.WaitGroup
	for i := common.Bnum(0); i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := mkBusyBuf(0, 100+i)
			assert.NoError(t, c.SubmitAndWait(b, false))
			assert.Equal(t, mkSector(byte(i)), b.Data,
				fmt.Sprintf("sector %d woke with wrong data", 100+i))
		}()
	}
	require.Eventually(t, func() bool { return c.queueLen() == 8 },
		time.Second, time.Millisecond)
	s.Unstall()
	wg.Wait()
}

func TestConcurrentIntegrity(t *testing.T) {
	_, c := mkCtlr(nil)

	const nthread = 10
	var wg sync.WaitGroup
	wg.Add(nthread)
	for i := 0; i < nthread; i++ {
		i := i
		go func() {
			defer wg.Done()
			sector := common.Bnum(10 + i)
			w := mkBusyBuf(0, sector)
			copy(w.Data, mkSector(byte(i)))
			w.SetDirty()
			assert.NoError(t, c.SubmitAndWait(w, true))

			r := mkBusyBuf(0, sector)
			assert.NoError(t, c.SubmitAndWait(r, false))
			assert.Equal(t, mkSector(byte(i)), r.Data)
		}()
	}
	wg.Wait()
}
