package flashtable

import "encoding/binary"

// On-flash field offsets for TableHeader. Explicit offsets and
// encoding/binary calls, never native struct layout: the records are a
// storage format, not an in-memory convenience.
const (
	offHdrMagic      = 0x00 // uint16
	offHdrName       = 0x02 // [NameMax]byte
	offHdrTableSize  = 0x0A // uint32
	offHdrDataLen    = 0x0E // uint32
	offHdrStructSize = 0x12 // uint32
	offHdrStructNums = 0x16 // uint32
	offHdrDataCRC    = 0x1A // uint32

	// TableHeaderSize is sizeof(TableHeader) on flash.
	TableHeaderSize = 0x1E // 30
)

// TableHeader is stored at the start of every row-table in flash.
type TableHeader struct {
	Magic      uint16
	Name       [NameMax]byte
	TableSize  uint32 // logical maximum: sizeof(header) + struct_size*max_structs
	DataLen    uint32 // bytes currently occupied by rows
	StructSize uint32
	StructNums uint32 // DataLen / StructSize
	DataCRC    uint32 // CRC32 over the data region only
}

func encodeTableHeader(h *TableHeader) []byte {
	buf := make([]byte, TableHeaderSize)

	binary.LittleEndian.PutUint16(buf[offHdrMagic:], h.Magic)
	copy(buf[offHdrName:offHdrName+NameMax], h.Name[:])
	binary.LittleEndian.PutUint32(buf[offHdrTableSize:], h.TableSize)
	binary.LittleEndian.PutUint32(buf[offHdrDataLen:], h.DataLen)
	binary.LittleEndian.PutUint32(buf[offHdrStructSize:], h.StructSize)
	binary.LittleEndian.PutUint32(buf[offHdrStructNums:], h.StructNums)
	binary.LittleEndian.PutUint32(buf[offHdrDataCRC:], h.DataCRC)

	return buf
}

func decodeTableHeader(buf []byte) TableHeader {
	var h TableHeader

	h.Magic = binary.LittleEndian.Uint16(buf[offHdrMagic:])
	copy(h.Name[:], buf[offHdrName:offHdrName+NameMax])
	h.TableSize = binary.LittleEndian.Uint32(buf[offHdrTableSize:])
	h.DataLen = binary.LittleEndian.Uint32(buf[offHdrDataLen:])
	h.StructSize = binary.LittleEndian.Uint32(buf[offHdrStructSize:])
	h.StructNums = binary.LittleEndian.Uint32(buf[offHdrStructNums:])
	h.DataCRC = binary.LittleEndian.Uint32(buf[offHdrDataCRC:])

	return h
}

// On-flash field offsets for TableSlot, an element of ManagerTable.Tables.
const (
	offSlotName            = 0x00 // [NameMax]byte
	offSlotAddr            = 0x08 // uint32
	offSlotSize            = 0x0C // uint32
	offSlotUsedSize        = 0x10 // uint32
	offSlotMagic           = 0x14 // uint16
	offSlotStatus          = 0x16 // uint8
	offSlotReserved        = 0x17 // uint8
	offSlotNextManagerAddr = 0x18 // uint32

	tableSlotSize = 0x1C // 28
)

// TableSlot is one element of a ManagerTable's table array.
type TableSlot struct {
	Name            [NameMax]byte
	Addr            uint32 // flash offset of TableHeader
	Size            uint32 // on-flash footprint: sizeof(header) + DataLen, never the logical maximum
	UsedSize        uint32 // sizeof(header) + data_len
	Magic           uint16
	Status          uint8 // StatusInvalid / StatusValid / StatusDeleted
	Reserved        uint8
	NextManagerAddr uint32 // reserved, unused
}

func encodeTableSlot(buf []byte, s *TableSlot) {
	copy(buf[offSlotName:offSlotName+NameMax], s.Name[:])
	binary.LittleEndian.PutUint32(buf[offSlotAddr:], s.Addr)
	binary.LittleEndian.PutUint32(buf[offSlotSize:], s.Size)
	binary.LittleEndian.PutUint32(buf[offSlotUsedSize:], s.UsedSize)
	binary.LittleEndian.PutUint16(buf[offSlotMagic:], s.Magic)
	buf[offSlotStatus] = s.Status
	buf[offSlotReserved] = s.Reserved
	binary.LittleEndian.PutUint32(buf[offSlotNextManagerAddr:], s.NextManagerAddr)
}

func decodeTableSlot(buf []byte) TableSlot {
	var s TableSlot

	copy(s.Name[:], buf[offSlotName:offSlotName+NameMax])
	s.Addr = binary.LittleEndian.Uint32(buf[offSlotAddr:])
	s.Size = binary.LittleEndian.Uint32(buf[offSlotSize:])
	s.UsedSize = binary.LittleEndian.Uint32(buf[offSlotUsedSize:])
	s.Magic = binary.LittleEndian.Uint16(buf[offSlotMagic:])
	s.Status = buf[offSlotStatus]
	s.Reserved = buf[offSlotReserved]
	s.NextManagerAddr = binary.LittleEndian.Uint32(buf[offSlotNextManagerAddr:])

	return s
}

// On-flash field offsets for ManagerTable.
const (
	offMgrMagic           = 0x00 // uint16
	offMgrCRC             = 0x02 // uint32
	offMgrVersion         = 0x06 // uint8
	offMgrTableCount      = 0x07 // uint8
	offMgrTotalSize       = 0x08 // uint32
	offMgrUsedSize        = 0x0C // uint32
	offMgrNextManagerAddr = 0x10 // uint32
	offMgrTables          = 0x14 // [MaxTables]TableSlot

	// crcRegionOffset is where the CRC-covered region starts: everything
	// after {magic, crc}, i.e. after the first 6 bytes of the record.
	crcRegionOffset = offMgrVersion

	// ManagerTableSize is sizeof(ManagerTable) on flash.
	ManagerTableSize = offMgrTables + MaxTables*tableSlotSize
)

// ManagerTable is the on-flash index record: it names every known
// table and points to the next version in the append-only chain.
type ManagerTable struct {
	Magic           uint16
	CRC             uint32 // CRC32 over every byte from Version to the end of Tables
	Version         uint8
	TableCount      uint8 // number of Valid slots
	TotalSize       uint32
	UsedSize        uint32
	NextManagerAddr uint32 // reservation for the next version
	Tables          [MaxTables]TableSlot
}

// encodeManagerTable serializes m into a ManagerTableSize buffer and
// stamps the freshly computed CRC into the result. It does not mutate m.
func encodeManagerTable(m *ManagerTable) []byte {
	buf := make([]byte, ManagerTableSize)

	binary.LittleEndian.PutUint16(buf[offMgrMagic:], m.Magic)
	buf[offMgrVersion] = m.Version
	buf[offMgrTableCount] = m.TableCount
	binary.LittleEndian.PutUint32(buf[offMgrTotalSize:], m.TotalSize)
	binary.LittleEndian.PutUint32(buf[offMgrUsedSize:], m.UsedSize)
	binary.LittleEndian.PutUint32(buf[offMgrNextManagerAddr:], m.NextManagerAddr)

	for i := range m.Tables {
		start := offMgrTables + i*tableSlotSize
		encodeTableSlot(buf[start:start+tableSlotSize], &m.Tables[i])
	}

	crc := crc32IEEE(buf[crcRegionOffset:])
	binary.LittleEndian.PutUint32(buf[offMgrCRC:], crc)

	return buf
}

func decodeManagerTable(buf []byte) ManagerTable {
	var m ManagerTable

	m.Magic = binary.LittleEndian.Uint16(buf[offMgrMagic:])
	m.CRC = binary.LittleEndian.Uint32(buf[offMgrCRC:])
	m.Version = buf[offMgrVersion]
	m.TableCount = buf[offMgrTableCount]
	m.TotalSize = binary.LittleEndian.Uint32(buf[offMgrTotalSize:])
	m.UsedSize = binary.LittleEndian.Uint32(buf[offMgrUsedSize:])
	m.NextManagerAddr = binary.LittleEndian.Uint32(buf[offMgrNextManagerAddr:])

	for i := range m.Tables {
		start := offMgrTables + i*tableSlotSize
		m.Tables[i] = decodeTableSlot(buf[start : start+tableSlotSize])
	}

	return m
}

// validateManagerTable checks magic, version, and CRC against buf (the
// raw encoding m was decoded from). It does not re-encode m, so it is
// safe to call on a record that round-trips through decodeManagerTable
// without first mutating any field.
func validateManagerTable(m *ManagerTable, buf []byte) bool {
	if m.Magic != magicManager {
		return false
	}
	if m.Version != managerVersion {
		return false
	}

	return crc32IEEE(buf[crcRegionOffset:]) == m.CRC
}

// encodeName packs name into a NameMax-byte, NUL-padded field. It fails
// with [ErrInvalidArg] if name is empty or does not fit.
func encodeName(name string) ([NameMax]byte, error) {
	var out [NameMax]byte

	if name == "" {
		return out, wrapf(ErrInvalidArg, "table name is empty")
	}
	if len(name) > NameMax {
		return out, wrapf(ErrInvalidArg, "table name %q exceeds %d bytes", name, NameMax)
	}

	copy(out[:], name)

	return out, nil
}

// decodeName trims a NUL-padded name field back to a Go string.
func decodeName(raw [NameMax]byte) string {
	n := 0
	for n < NameMax && raw[n] != 0 {
		n++
	}

	return string(raw[:n])
}

func sectorOf(addr uint32) uint32 {
	return addr / Sector
}

func offsetInSector(addr uint32) uint32 {
	return addr % Sector
}

func sectorStart(addr uint32) uint32 {
	return sectorOf(addr) * Sector
}

func nextSectorBoundary(addr uint32) uint32 {
	return sectorStart(addr) + Sector
}
