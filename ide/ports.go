package ide

// Reg is an offset into the controller's command register block.
type Reg uint8

const (
	RegData        Reg = 0 // 32-bit transfer window
	RegFeatures    Reg = 1
	RegSectorCount Reg = 2
	RegLBALow      Reg = 3
	RegLBAMid      Reg = 4
	RegLBAHigh     Reg = 5
	RegDevice      Reg = 6 // drive select plus LBA bits 24-27
	RegStatus      Reg = 7 // command on write, status on read
	RegCommand     Reg = 7
)

// Status register bits.
const (
	StatusBusy  uint8 = 0x80
	StatusReady uint8 = 0x40
	StatusFault uint8 = 0x20
	StatusError uint8 = 0x01
)

// Commands.
const (
	CmdReadSectors  uint8 = 0x20
	CmdWriteSectors uint8 = 0x30
)

// DeviceSelect bits: always-set bits plus LBA addressing mode.
const deviceLBA uint8 = 0xe0

// PortIO is the register-level access the driver needs from a controller.
// The protocol state machine is written entirely against this interface so
// it can run over real port I/O or over the simulated controller.
type PortIO interface {
	ReadReg(r Reg) uint8
	WriteReg(r Reg, v uint8)

	// ReadData transfers one full sector out of the data register.
	ReadData(p []byte)

	// WriteData transfers one full sector into the data register.
	WriteData(p []byte)

	// WriteCtl writes the device-control register (interrupt enable).
	WriteCtl(v uint8)
}
