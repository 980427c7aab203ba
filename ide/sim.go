package ide

import (
	"sync"

	"github.com/emberos/storage/common"
	"github.com/emberos/storage/disk"
	"github.com/emberos/storage/util"
)

// Access is one serviced request, in service order.
type Access struct {
	Dev    uint64
	Sector common.Bnum
	Write  bool
}

// Sim emulates one ATA controller over in-memory or file-backed disks, for
// running the driver without hardware. Commands execute on their own
// goroutine and completion arrives through the registered interrupt
// function, so the timing looks like real IRQ delivery: asynchronous with
// respect to the submitting thread.
//
// A nil secondary drive emulates an absent drive: selecting it reads back
// zero status, which is what the driver's presence probe looks for.
type Sim struct {
	mu   *sync.Mutex
	intr func()

	drives [ndrives]disk.Disk

	// register file
	sectorCount uint8
	lbaLow      uint8
	lbaMid      uint8
	lbaHigh     uint8
	device      uint8
	status      uint8
	data        []byte // data register transfer window

	// test knobs
	stall     bool
	stallCond *sync.Cond
	failReads uint32

	reads  uint64
	writes uint64
	trace  []Access
}

var _ PortIO = (*Sim)(nil)

func NewSim(primary disk.Disk, secondary disk.Disk) *Sim {
	mu := new(sync.Mutex)
	s := &Sim{
		mu:     mu,
		status: StatusReady,
		data:   make([]byte, common.SectorSize),
	}
	s.stallCond = sync.NewCond(mu)
	s.drives[0] = primary
	s.drives[1] = secondary
	return s
}

// OnIntr registers the interrupt handler completions are delivered to.
func (s *Sim) OnIntr(f func()) {
	s.mu.Lock()
	s.intr = f
	s.mu.Unlock()
}

func (s *Sim) selectedDrive() disk.Disk {
	return s.drives[(s.device>>4)&1]
}

func (s *Sim) ReadReg(r Reg) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r {
	case RegStatus:
		if s.selectedDrive() == nil {
			// absent drives float the bus low
			return 0
		}
		return s.status
	case RegSectorCount:
		return s.sectorCount
	case RegLBALow:
		return s.lbaLow
	case RegLBAMid:
		return s.lbaMid
	case RegLBAHigh:
		return s.lbaHigh
	case RegDevice:
		return s.device
	}
	return 0
}

func (s *Sim) WriteReg(r Reg, v uint8) {
	s.mu.Lock()
	var cmd uint8
	switch r {
	case RegSectorCount:
		s.sectorCount = v
	case RegLBALow:
		s.lbaLow = v
	case RegLBAMid:
		s.lbaMid = v
	case RegLBAHigh:
		s.lbaHigh = v
	case RegDevice:
		s.device = v
	case RegCommand:
		cmd = v
		s.status = StatusBusy
	}
	s.mu.Unlock()

	// A read executes as soon as the command lands; a write waits for the
	// caller to transfer the payload through the data register.
	if cmd == CmdReadSectors {
		go s.execute(false)
	}
}

func (s *Sim) ReadData(p []byte) {
	s.mu.Lock()
	copy(p, s.data)
	s.mu.Unlock()
}

func (s *Sim) WriteData(p []byte) {
	s.mu.Lock()
	s.data = util.CloneByteSlice(p)
	s.mu.Unlock()
	go s.execute(true)
}

func (s *Sim) WriteCtl(v uint8) {}

func (s *Sim) execute(write bool) {
	s.mu.Lock()
	for s.stall {
		s.stallCond.Wait()
	}

	drive := uint64((s.device >> 4) & 1)
	sector := uint64(s.lbaLow) |
		uint64(s.lbaMid)<<8 |
		uint64(s.lbaHigh)<<16 |
		uint64(s.device&0x0f)<<24
	d := s.drives[drive]

	if write {
		if err := d.Write(sector, s.data); err != nil {
			s.status = StatusReady | StatusFault
		} else {
			s.writes += 1
			s.status = StatusReady
		}
	} else {
		if s.failReads > 0 {
			s.failReads -= 1
			s.status = StatusReady | StatusError
		} else if blk, err := d.Read(sector); err != nil {
			s.status = StatusReady | StatusError
		} else {
			s.data = blk
			s.reads += 1
			s.status = StatusReady
		}
	}
	s.trace = append(s.trace, Access{Dev: drive, Sector: sector, Write: write})
	intr := s.intr
	s.mu.Unlock()

	if intr != nil {
		intr()
	}
}

// Stall holds completed commands inside the controller so tests can pile
// up a queue of pending requests deterministically.
func (s *Sim) Stall() {
	s.mu.Lock()
	s.stall = true
	s.mu.Unlock()
}

func (s *Sim) Unstall() {
	s.mu.Lock()
	s.stall = false
	s.stallCond.Broadcast()
	s.mu.Unlock()
}

// FailReads makes the next n reads complete with an error status.
func (s *Sim) FailReads(n uint32) {
	s.mu.Lock()
	s.failReads = n
	s.mu.Unlock()
}

// Counts reports successfully serviced reads and writes.
func (s *Sim) Counts() (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

// Trace returns a copy of the service history, in hardware order.
func (s *Sim) Trace() []Access {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := make([]Access, len(s.trace))
	copy(t, s.trace)
	return t
}
