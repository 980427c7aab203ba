package disk

// Block is one 512-byte sector buffer.
type Block = []byte

const BlockSize uint64 = 512

// Disk provides access to a logical sector-addressed disk. It is the raw
// backing store behind a controller; the driver and everything above it go
// through the controller instead.
type Disk interface {
	// Read reads a sector by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the sector at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a sector by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in sectors
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably
	// on disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}
