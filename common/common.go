package common

// Devnum identifies one drive attached to the controller.
type Devnum uint64

// Bnum is a sector number on a drive.
type Bnum = uint64

const (
	// SectorSize is the controller's transfer unit, in bytes.
	SectorSize uint64 = 512

	// SectorWords is a sector measured in 32-bit transfer words.
	SectorWords uint64 = SectorSize / 4

	// MaxOpBlocks is the most sectors a single operation may modify.
	// Admission control reserves this many log slots per operation.
	MaxOpBlocks uint64 = 10

	// LogSize is the number of data slots in the log region, not counting
	// the header sector. The bound is load-bearing: begin_op's space check
	// against it is what guarantees an admitted operation never runs out
	// of log slots mid-flight.
	LogSize uint64 = 3 * MaxOpBlocks

	// HdrMeta is the header space spent on the slot count.
	HdrMeta uint64 = 8

	// HdrSlots is the most slots one header sector can name; LogSize must
	// not exceed it.
	HdrSlots uint64 = (SectorSize - HdrMeta) / 8

	NULLBNUM Bnum = 0
)
