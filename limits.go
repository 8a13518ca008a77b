package flashtable

// Compiled-in layout constants. Changing any of these invalidates existing
// storage, since they are not themselves persisted.
const (
	// Sector is the flash erase granularity in bytes.
	Sector = 4096

	// Chunk is the maximum number of bytes the [ChunkedProgrammer] writes
	// in a single call to the underlying [Driver], bounding how long any
	// single program operation can block.
	Chunk = 1024

	// NameMax is the number of bytes reserved for a table name, NUL-padded.
	NameMax = 8

	// MaxTables is the number of slots in a [ManagerTable].
	MaxTables = 24

	// magicManager identifies a valid ManagerTable record.
	magicManager = 0xAAAA

	// magicTable identifies a valid TableHeader record.
	magicTable = 0x0531

	// managerVersion is the only supported on-flash ManagerTable version.
	managerVersion = 1
)

// Slot status values for [TableSlot.Status].
const (
	StatusInvalid = 0
	StatusValid   = 1
	StatusDeleted = 2
)
