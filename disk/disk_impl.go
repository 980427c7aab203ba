package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd         int
	numSectors uint64
}

// NewFileDisk opens (creating if necessary) a disk image of numSectors
// sectors backed by the file at path. If numSectors is 0 and the file
// already exists, the size is taken from the file.
func NewFileDisk(path string, numSectors uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if numSectors == 0 {
		numSectors = uint64(stat.Size) / BlockSize
	}
	if (stat.Mode&unix.S_IFREG) != 0 && uint64(stat.Size) != numSectors*BlockSize {
		err = unix.Ftruncate(fd, int64(numSectors*BlockSize))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return &fileDisk{fd: fd, numSectors: numSectors}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		panic("buffer is not sector-sized")
	}
	if a >= d.numSectors {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	_, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	return err
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not sector-sized (%d bytes)", len(v)))
	}
	if a >= d.numSectors {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	return err
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numSectors, nil
}

func (d *fileDisk) Barrier() error {
	return unix.Fsync(d.fd)
}

func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}

var _ Disk = (*memDisk)(nil)

type memDisk struct {
	l       *sync.RWMutex
	sectors [][BlockSize]byte
}

func NewMemDisk(numSectors uint64) Disk {
	sectors := make([][BlockSize]byte, numSectors)
	return &memDisk{l: new(sync.RWMutex), sectors: sectors}
}

func (d *memDisk) ReadTo(a uint64, buf Block) error {
	d.l.RLock()
	defer d.l.RUnlock()
	if a >= uint64(len(d.sectors)) {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	copy(buf, d.sectors[a][:])
	return nil
}

func (d *memDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *memDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not sector-sized (%d bytes)", len(v)))
	}
	d.l.Lock()
	defer d.l.Unlock()
	if a >= uint64(len(d.sectors)) {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	copy(d.sectors[a][:], v)
	return nil
}

func (d *memDisk) Size() (uint64, error) {
	// this never changes so it is safe to run lock-free
	return uint64(len(d.sectors)), nil
}

func (d *memDisk) Barrier() error { return nil }

func (d *memDisk) Close() error { return nil }
