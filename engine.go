package flashtable

import (
	"fmt"
)

// Engine owns every piece of process-wide state the storage format
// implies: the driver, the geometry, the erase-allowed flag, the in-RAM
// manager table, and the write cursor. Exactly one Engine is expected
// per device; nothing in it is safe for concurrent use.
type Engine struct {
	drv          Driver
	prog         *ChunkedProgrammer
	totalSize    uint32
	eraseAllowed bool
	logger       Logger

	manager     ManagerTable
	managerAddr uint32
	alloc       *allocator
}

// Option configures an [Engine] at construction time.
type Option func(*Engine)

// WithLogger installs a [Logger] the engine calls at diagnostically
// interesting points (GC's degenerate reset, a commit whose sector erase
// failed, RepairTable falling back to relocation). Discovery inside [New]
// runs before options are applied and does not log. The default is a
// no-op logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New initializes the engine over drv: it loads (or formats) the manager
// table and reconstructs the write cursor, then returns an Engine ready
// for Table API calls. There is no teardown call; the Engine may simply
// be dropped.
func New(drv Driver, totalSize uint32, eraseAllowed bool, opts ...Option) (*Engine, error) {
	if drv == nil {
		return nil, wrapf(ErrInvalidArg, "driver is nil")
	}

	if err := drv.Init(); err != nil {
		return nil, fmt.Errorf("driver init: %w: %v", ErrDriver, err)
	}

	res, err := loadManagerTable(drv, totalSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		drv:          drv,
		prog:         NewChunkedProgrammer(drv),
		totalSize:    totalSize,
		eraseAllowed: eraseAllowed,
		logger:       noopLogger{},
		manager:      res.manager,
		managerAddr:  res.addr,
	}
	e.alloc = newAllocator(drv, totalSize, eraseAllowed, res.cursor)

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// SetEraseAllowed toggles whether the engine is permitted to erase
// sectors. A device opened with erase disabled can still read and
// append as long as the target bytes already happen to be 0xFF.
func (e *Engine) SetEraseAllowed(allowed bool) {
	e.eraseAllowed = allowed
	e.alloc.eraseAllowed = allowed
}

// IsEraseAllowed reports the current erase-allowed flag.
func (e *Engine) IsEraseAllowed() bool {
	return e.eraseAllowed
}

// GetTotalSize returns the configured device size in bytes.
func (e *Engine) GetTotalSize() uint32 {
	return e.totalSize
}

// GetUsedSize returns the high-water mark of bytes claimed by manager
// versions and table footprints so far.
func (e *Engine) GetUsedSize() uint32 {
	return e.manager.UsedSize
}

// GetFreeSize returns GetTotalSize() - GetUsedSize().
func (e *Engine) GetFreeSize() uint32 {
	if e.manager.UsedSize >= e.totalSize {
		return 0
	}
	return e.totalSize - e.manager.UsedSize
}

// DumpManagerTable returns a copy of the in-RAM manager table for
// diagnostic inspection (e.g. by cmd/flashctl).
func (e *Engine) DumpManagerTable() ManagerTable {
	return e.manager
}

// TableInfo is the non-mutating summary returned by GetTableInfo.
type TableInfo struct {
	Name       string
	Addr       uint32
	Size       uint32 // on-flash footprint: sizeof(header) + DataLen
	StructSize uint32
	StructNums uint32
	DataLen    uint32
	TableSize  uint32 // logical maximum set at create time
	DataCRC    uint32
}

func nameKey(name string) ([NameMax]byte, error) {
	return encodeName(name)
}

// findValid returns the slot index and a copy of the slot for name, or
// [ErrNotFound] if no Valid slot has that name.
func (e *Engine) findValid(name string) (int, TableSlot, error) {
	key, err := nameKey(name)
	if err != nil {
		return -1, TableSlot{}, err
	}

	for i := range e.manager.Tables {
		s := &e.manager.Tables[i]
		if s.Status == StatusValid && s.Name == key {
			return i, *s, nil
		}
	}

	return -1, TableSlot{}, wrapf(ErrNotFound, "table %q", name)
}

func (e *Engine) findFreeSlot() int {
	for i := range e.manager.Tables {
		if e.manager.Tables[i].Status == StatusInvalid {
			return i
		}
	}
	return -1
}

func (e *Engine) readHeader(addr uint32) (TableHeader, error) {
	buf := make([]byte, TableHeaderSize)
	if err := e.drv.Read(addr, buf); err != nil {
		return TableHeader{}, fmt.Errorf("read header at 0x%x: %w: %v", addr, ErrDriver, err)
	}

	h := decodeTableHeader(buf)
	if h.Magic != magicTable {
		return TableHeader{}, wrapf(ErrCorrupt, "header at 0x%x has bad magic 0x%04x", addr, h.Magic)
	}
	if h.StructNums*h.StructSize != h.DataLen {
		return TableHeader{}, wrapf(ErrCorrupt, "header at 0x%x: struct_nums*struct_size != data_len", addr)
	}

	return h, nil
}

func (e *Engine) readData(addr uint32, dataLen uint32) ([]byte, error) {
	if dataLen == 0 {
		return nil, nil
	}

	buf := make([]byte, dataLen)
	if err := e.drv.Read(addr+TableHeaderSize, buf); err != nil {
		return nil, fmt.Errorf("read data at 0x%x (%d bytes): %w: %v", addr+TableHeaderSize, dataLen, ErrDriver, err)
	}

	return buf, nil
}

// commitOrRestore runs saveManagerTable and, on failure, restores the
// in-RAM manager to backup so callers observe no partial index mutation.
// Bytes
// already programmed to the new table location are NOT rolled back -
// NOR flash cannot un-program a bit, so that space is simply orphaned
// until the next GC.
func (e *Engine) commitOrRestore(backup ManagerTable) error {
	if err := e.saveManagerTable(); err != nil {
		e.manager = backup
		return err
	}
	return nil
}

// relocate allocates room for a new header+data image, programs the
// header and then the data via the chunked programmer, and returns the
// address the image now lives at.
func (e *Engine) relocate(header *TableHeader, data []byte) (uint32, error) {
	total := TableHeaderSize + uint32(len(data))

	addr, err := e.alloc.allocate(total)
	if err != nil {
		return 0, err
	}

	if err := e.prog.Program(addr, encodeTableHeader(header)); err != nil {
		return 0, err
	}
	if len(data) > 0 {
		if err := e.prog.Program(addr+TableHeaderSize, data); err != nil {
			return 0, err
		}
	}

	return addr, nil
}

// CreateTable creates a new, empty row-table. structSize and
// maxStructs must both be non-zero, and a single row plus the header must
// fit in one sector.
func (e *Engine) CreateTable(name string, structSize, maxStructs uint32) error {
	key, err := nameKey(name)
	if err != nil {
		return err
	}
	if structSize == 0 || maxStructs == 0 {
		return wrapf(ErrInvalidArg, "struct_size and max_structs must be non-zero")
	}
	if uint64(TableHeaderSize)+uint64(structSize) > Sector {
		return wrapf(ErrInvalidArg, "struct_size %d plus header exceeds sector size %d", structSize, Sector)
	}

	for i := range e.manager.Tables {
		s := &e.manager.Tables[i]
		if s.Status == StatusValid && s.Name == key {
			return wrapf(ErrExists, "table %q", name)
		}
	}

	idx := e.findFreeSlot()
	if idx < 0 {
		return wrapf(ErrNoSlot, "all %d table slots are in use", MaxTables)
	}

	header := TableHeader{
		Magic:      magicTable,
		Name:       key,
		TableSize:  TableHeaderSize + structSize*maxStructs,
		DataLen:    0,
		StructSize: structSize,
		StructNums: 0,
		DataCRC:    0,
	}

	addr, err := e.alloc.allocate(TableHeaderSize)
	if err != nil {
		return err
	}
	if err := e.prog.Program(addr, encodeTableHeader(&header)); err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx] = TableSlot{
		Name:     key,
		Addr:     addr,
		Size:     TableHeaderSize,
		UsedSize: TableHeaderSize,
		Magic:    magicTable,
		Status:   StatusValid,
	}
	e.manager.TableCount++

	return e.commitOrRestore(backup)
}

// DeleteTable marks name's slot Deleted. Its data bytes remain on flash
// until the next [Engine.GC].
func (e *Engine) DeleteTable(name string) error {
	idx, _, err := e.findValid(name)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Status = StatusDeleted
	e.manager.TableCount--

	return e.commitOrRestore(backup)
}

// TableExists reports whether name currently resolves to a Valid slot.
func (e *Engine) TableExists(name string) bool {
	_, _, err := e.findValid(name)
	return err == nil
}

// ListTables returns the names of every Valid table.
func (e *Engine) ListTables() []string {
	names := make([]string, 0, e.manager.TableCount)
	for i := range e.manager.Tables {
		s := &e.manager.Tables[i]
		if s.Status == StatusValid {
			names = append(names, decodeName(s.Name))
		}
	}
	return names
}

// GetTableCount returns the number of rows currently stored in name.
func (e *Engine) GetTableCount(name string) (uint32, error) {
	_, slot, err := e.findValid(name)
	if err != nil {
		return 0, err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return 0, err
	}

	return header.StructNums, nil
}

// GetTableInfo returns a non-mutating summary of name.
func (e *Engine) GetTableInfo(name string) (TableInfo, error) {
	_, slot, err := e.findValid(name)
	if err != nil {
		return TableInfo{}, err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return TableInfo{}, err
	}

	return TableInfo{
		Name:       name,
		Addr:       slot.Addr,
		Size:       slot.Size,
		StructSize: header.StructSize,
		StructNums: header.StructNums,
		DataLen:    header.DataLen,
		TableSize:  header.TableSize,
		DataCRC:    header.DataCRC,
	}, nil
}

// ReadTableData reads the row at index from name.
func (e *Engine) ReadTableData(name string, index uint32) ([]byte, error) {
	_, slot, err := e.findValid(name)
	if err != nil {
		return nil, err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return nil, err
	}

	if index >= header.StructNums {
		return nil, wrapf(ErrNotFound, "index %d >= struct_nums %d", index, header.StructNums)
	}

	buf := make([]byte, header.StructSize)
	off := slot.Addr + TableHeaderSize + index*header.StructSize
	if err := e.drv.Read(off, buf); err != nil {
		return nil, fmt.Errorf("read row %d of %q at 0x%x: %w: %v", index, name, off, ErrDriver, err)
	}

	return buf, nil
}

// WriteTableData appends one row to name without a capacity check.
// len(data) must equal the table's struct_size.
func (e *Engine) WriteTableData(name string, data []byte) error {
	return e.appendRows(name, data, false)
}

// AppendTableData appends one row to name, failing with [ErrFull] if the
// table's declared max_structs would be exceeded.
func (e *Engine) AppendTableData(name string, data []byte) error {
	return e.appendRows(name, data, true)
}

func (e *Engine) appendRows(name string, data []byte, checkFull bool) error {
	idx, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}
	if uint32(len(data)) != header.StructSize {
		return wrapf(ErrInvalidArg, "row size %d != struct_size %d", len(data), header.StructSize)
	}

	if checkFull && header.TableSize > TableHeaderSize {
		capacity := (header.TableSize - TableHeaderSize) / header.StructSize
		if uint64(header.StructNums)+1 > uint64(capacity) {
			return wrapf(ErrFull, "table %q at capacity (%d/%d)", name, header.StructNums, capacity)
		}
	}

	oldData, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	newData := make([]byte, 0, len(oldData)+len(data))
	newData = append(newData, oldData...)
	newData = append(newData, data...)

	header.DataLen = uint32(len(newData))
	header.StructNums = header.DataLen / header.StructSize
	header.DataCRC = crc32IEEE(newData)

	newAddr, err := e.relocate(&header, newData)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Addr = newAddr
	e.manager.Tables[idx].Size = TableHeaderSize + header.DataLen
	e.manager.Tables[idx].UsedSize = TableHeaderSize + header.DataLen

	return e.commitOrRestore(backup)
}

// WriteTableDataByIndex overwrites the row at index in name. The row
// count and data length are unchanged; the table is still relocated.
func (e *Engine) WriteTableDataByIndex(name string, index uint32, data []byte) error {
	idx, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}
	if index >= header.StructNums {
		return wrapf(ErrOutOfRange, "index %d >= struct_nums %d", index, header.StructNums)
	}
	if uint32(len(data)) != header.StructSize {
		return wrapf(ErrInvalidArg, "row size %d != struct_size %d", len(data), header.StructSize)
	}

	payload, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	off := index * header.StructSize
	copy(payload[off:off+header.StructSize], data)
	header.DataCRC = crc32IEEE(payload)

	newAddr, err := e.relocate(&header, payload)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Addr = newAddr
	e.manager.Tables[idx].Size = TableHeaderSize + header.DataLen
	e.manager.Tables[idx].UsedSize = TableHeaderSize + header.DataLen

	return e.commitOrRestore(backup)
}

// WriteTableDataBatch appends count rows of structSize bytes each to
// name in a single allocation and relocation.
func (e *Engine) WriteTableDataBatch(name string, data []byte, structSize uint32, count uint32) error {
	if count == 0 {
		return wrapf(ErrInvalidArg, "count must be non-zero")
	}

	idx, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}
	if structSize != header.StructSize {
		return wrapf(ErrInvalidArg, "struct_size %d != table struct_size %d", structSize, header.StructSize)
	}
	if uint64(len(data)) != uint64(structSize)*uint64(count) {
		return wrapf(ErrInvalidArg, "data length %d != struct_size*count (%d*%d)", len(data), structSize, count)
	}

	if header.TableSize > TableHeaderSize {
		capacity := (header.TableSize - TableHeaderSize) / header.StructSize
		if uint64(header.StructNums)+uint64(count) > uint64(capacity) {
			return wrapf(ErrFull, "table %q batch of %d would exceed capacity %d", name, count, capacity)
		}
	}

	oldData, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	newData := make([]byte, 0, len(oldData)+len(data))
	newData = append(newData, oldData...)
	newData = append(newData, data...)

	header.DataLen = uint32(len(newData))
	header.StructNums = header.DataLen / header.StructSize
	header.DataCRC = crc32IEEE(newData)

	newAddr, err := e.relocate(&header, newData)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Addr = newAddr
	e.manager.Tables[idx].Size = TableHeaderSize + header.DataLen
	e.manager.Tables[idx].UsedSize = TableHeaderSize + header.DataLen

	return e.commitOrRestore(backup)
}

// ClearTableData removes every row whose bit is set in mask, preserving
// the relative order of the remaining rows, which renumbers them
// contiguously from zero. mask==0 is a no-op success.
func (e *Engine) ClearTableData(name string, mask uint64) error {
	idx, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}

	limit := header.StructNums
	if limit > 64 {
		limit = 64
	}
	if limit < 64 {
		if mask>>limit != 0 {
			return wrapf(ErrOutOfRange, "clear mask has a bit set beyond struct_nums %d", header.StructNums)
		}
	}

	if mask == 0 {
		return nil
	}

	payload, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	kept := make([]byte, 0, len(payload))
	var keptCount uint32
	for i := uint32(0); i < header.StructNums; i++ {
		if mask&(1<<i) != 0 {
			continue
		}
		off := i * header.StructSize
		kept = append(kept, payload[off:off+header.StructSize]...)
		keptCount++
	}

	header.DataLen = uint32(len(kept))
	header.StructNums = keptCount
	if keptCount == 0 {
		header.DataCRC = 0
	} else {
		header.DataCRC = crc32IEEE(kept)
	}

	newAddr, err := e.relocate(&header, kept)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Addr = newAddr
	e.manager.Tables[idx].Size = TableHeaderSize + header.DataLen
	e.manager.Tables[idx].UsedSize = TableHeaderSize + header.DataLen

	return e.commitOrRestore(backup)
}

// ValidateTableData reads name's data and recomputes its CRC, returning
// [ErrCorrupt] on mismatch.
func (e *Engine) ValidateTableData(name string) error {
	_, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}

	data, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	if crc32IEEE(data) != header.DataCRC {
		return wrapf(ErrCorrupt, "table %q: data_crc mismatch", name)
	}

	return nil
}

// RepairTable recomputes name's data CRC and attempts to reprogram the
// header in place. In-place works only when the new CRC bits are a
// bitwise subset of the bits already on flash, which is not generally
// true; if the in-place program fails, RepairTable falls back to the
// normal relocate path used by overwrite, rewriting header and data at
// a fresh address.
func (e *Engine) RepairTable(name string) error {
	idx, slot, err := e.findValid(name)
	if err != nil {
		return err
	}

	header, err := e.readHeader(slot.Addr)
	if err != nil {
		return err
	}

	data, err := e.readData(slot.Addr, header.DataLen)
	if err != nil {
		return err
	}

	newCRC := crc32IEEE(data)
	if newCRC == header.DataCRC {
		return nil
	}

	repaired := header
	repaired.DataCRC = newCRC

	if err := e.drv.Program(slot.Addr, encodeTableHeader(&repaired)); err == nil {
		backup := e.manager
		e.manager.Tables[idx].UsedSize = TableHeaderSize + repaired.DataLen
		return e.commitOrRestore(backup)
	}
	e.logger.Debugf("repair: in-place header program failed for %q, falling back to relocate", name)

	newAddr, err := e.relocate(&repaired, data)
	if err != nil {
		return err
	}

	backup := e.manager
	e.manager.Tables[idx].Addr = newAddr
	e.manager.Tables[idx].Size = TableHeaderSize + repaired.DataLen
	e.manager.Tables[idx].UsedSize = TableHeaderSize + repaired.DataLen

	return e.commitOrRestore(backup)
}
