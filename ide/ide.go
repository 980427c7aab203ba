// Package ide drives one ATA controller with up to two drives.
//
// All access to the controller is serialized through a FIFO of pending
// requests; the head of the queue is the one request the hardware is
// servicing. SubmitAndWait is the only entry point for callers (in
// practice, the buffer cache): it enqueues a request, issues the hardware
// command if the controller is idle, and sleeps until the completion
// interrupt. Intr is the other half, invoked asynchronously on interrupt
// delivery: it retires the head request, wakes exactly its waiter, and
// keeps the pipeline moving by issuing the next queued command.
//
// Status polling is used only to confirm the controller accepts a command
// before issuing it. Completion is never polled for; the submitting thread
// sleeps and the interrupt handler wakes it.
package ide

import (
	"errors"
	"sync"

	"github.com/emberos/storage/buf"
	"github.com/emberos/storage/util"
)

const ndrives = 2

// ErrReadFault reports that the drive raised a fault or error status for a
// read; the buffer's contents are unchanged and it remains invalid. Retry
// policy belongs to the caller.
var ErrReadFault = errors.New("ide: drive reported read fault")

type req struct {
	b     *buf.Buf
	write bool

	done  bool
	fault bool
	cond  *sync.Cond // tied to Ctlr.mu; signaled once, by Intr

	next *req
}

// Ctlr serializes access to one disk controller.
type Ctlr struct {
	mu    *sync.Mutex
	ports PortIO

	// queue of pending requests; the head is in flight at the hardware
	queue   *req
	present [ndrives]bool
}

// NewCtlr resets the controller, probes for the secondary drive, and
// returns a driver ready to accept requests. Must be called exactly once
// per controller, before any request is submitted.
func NewCtlr(ports PortIO) *Ctlr {
	c := &Ctlr{
		mu:    new(sync.Mutex),
		ports: ports,
	}
	c.init()
	return c
}

func (c *Ctlr) init() {
	c.waitReady(false)
	c.present[0] = true

	// Probe for the secondary drive: select it and watch for any status
	// bits. An absent drive reads back all zeroes.
	c.ports.WriteReg(RegDevice, deviceLBA|(1<<4))
	for i := 0; i < 1000; i++ {
		if c.ports.ReadReg(RegStatus) != 0 {
			c.present[1] = true
			break
		}
	}

	// Switch back to the primary drive.
	c.ports.WriteReg(RegDevice, deviceLBA|(0<<4))
}

// Present reports whether drive dev answered the presence probe.
func (c *Ctlr) Present(dev uint64) bool {
	return dev < ndrives && c.present[dev]
}

// waitReady polls until the controller will accept a command. With
// checkErr it also reports whether the drive raised a fault or error.
func (c *Ctlr) waitReady(checkErr bool) bool {
	for {
		s := c.ports.ReadReg(RegStatus)
		if s&(StatusBusy|StatusReady) == StatusReady {
			if checkErr && s&(StatusFault|StatusError) != 0 {
				return false
			}
			return true
		}
	}
}

// start issues the hardware command for r. Caller must hold c.mu and r
// must be the head of the queue.
func (c *Ctlr) start(r *req) {
	b := r.b
	c.waitReady(false)
	c.ports.WriteCtl(0) // generate interrupt on completion
	c.ports.WriteReg(RegSectorCount, 1)
	c.ports.WriteReg(RegLBALow, uint8(b.Sector))
	c.ports.WriteReg(RegLBAMid, uint8(b.Sector>>8))
	c.ports.WriteReg(RegLBAHigh, uint8(b.Sector>>16))
	c.ports.WriteReg(RegDevice,
		deviceLBA|uint8(b.Dev&1)<<4|uint8(b.Sector>>24)&0x0f)
	if r.write {
		c.ports.WriteReg(RegCommand, CmdWriteSectors)
		c.ports.WriteData(b.Data)
	} else {
		c.ports.WriteReg(RegCommand, CmdReadSectors)
	}
}

// SubmitAndWait performs one synchronous sector transfer for b.
//
// The caller must hold b exclusively (busy). The request joins the tail of
// the FIFO; if the controller is idle it is issued immediately. The caller
// then sleeps until its completion interrupt. On success b is valid and no
// longer dirty; a read that faults returns ErrReadFault and leaves b
// invalid.
//
// Addressing a drive that failed the presence probe is a contract
// violation, not a runtime error.
func (c *Ctlr) SubmitAndWait(b *buf.Buf, write bool) error {
	if !b.Busy {
		panic("ide: buf not busy")
	}
	if uint64(b.Dev) >= ndrives || !c.present[b.Dev] {
		panic("ide: drive not present")
	}

	c.mu.Lock()
	r := &req{b: b, write: write, cond: sync.NewCond(c.mu)}

	// Append r to the queue.
	if c.queue == nil {
		c.queue = r
	} else {
		q := c.queue
		for q.next != nil {
			q = q.next
		}
		q.next = r
	}

	// Kick the controller if r is the only request.
	if c.queue == r {
		c.start(r)
	}

	// Wait for the completion interrupt to retire r.
	for !r.done {
		r.cond.Wait()
	}
	c.mu.Unlock()

	if r.fault {
		return ErrReadFault
	}
	util.DPrintf(5, "ide: %v %s done\n", b, direction(write))
	return nil
}

func direction(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

// Intr is the completion interrupt handler. It is invoked by interrupt
// delivery, never by a normal caller.
func (c *Ctlr) Intr() {
	c.mu.Lock()
	r := c.queue
	if r == nil {
		// spurious interrupt
		c.mu.Unlock()
		return
	}
	c.queue = r.next

	if !r.write {
		if c.waitReady(true) {
			c.ports.ReadData(r.b.Data)
		} else {
			r.fault = true
		}
	}
	if !r.fault {
		r.b.Valid = true
		r.b.ClearDirty()
	}
	r.done = true
	r.cond.Signal()

	// Keep the pipeline going.
	if c.queue != nil {
		c.start(c.queue)
	}
	c.mu.Unlock()
}
