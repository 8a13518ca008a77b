package flashtable

import "fmt"

// discoveryResult is what loadManagerTable hands back to [New]: the
// adopted manager-table version and the write cursor reconstructed from
// it.
type discoveryResult struct {
	manager ManagerTable
	addr    uint32 // flash offset the adopted manager was read from
	cursor  uint32 // next free byte
}

// loadManagerTable walks the manager-table linked list from flash offset
// 0 and picks the latest valid version.
//
// Each hop validates one candidate and only advances when that
// candidate's successor pointer stays in range and strictly increases.
// A read failure or validation failure at any hop after the first is
// recovery, not corruption: an interrupted commit leaves a half-written
// record at the end of the chain, so the walk stops there and the last
// hop that validated is adopted.
func loadManagerTable(drv Driver, totalSize uint32) (discoveryResult, error) {
	if totalSize < ManagerTableSize {
		return discoveryResult{}, wrapf(ErrNoSpace, "total size %d smaller than one manager table (%d)", totalSize, ManagerTableSize)
	}

	var (
		have    bool
		current ManagerTable
		addr    uint32
	)

	walkAddr := uint32(0)
	for {
		if uint64(walkAddr)+uint64(ManagerTableSize) > uint64(totalSize) {
			break
		}

		buf := make([]byte, ManagerTableSize)
		if err := drv.Read(walkAddr, buf); err != nil {
			break
		}

		candidate := decodeManagerTable(buf)
		if candidate.Magic != magicManager || !validateManagerTable(&candidate, buf) {
			break
		}

		have = true
		current = candidate
		addr = walkAddr

		next := candidate.NextManagerAddr
		if next == 0 || next >= totalSize || next <= walkAddr {
			break
		}

		walkAddr = next
	}

	if !have {
		return freshInit(drv, totalSize)
	}

	dataEnd := addr + ManagerTableSize
	for i := range current.Tables {
		s := &current.Tables[i]
		if s.Status != StatusValid {
			continue
		}
		if end := s.Addr + s.Size; end > dataEnd {
			dataEnd = end
		}
	}

	// The adopted manager's successor reservation is claimed space too:
	// allocating over it would collide with the next commit's target.
	// Resume the cursor past it, exactly where the last commit left off.
	if next := current.NextManagerAddr; next > addr && next < totalSize {
		if end := next + ManagerTableSize; end > dataEnd {
			dataEnd = end
		}
	}

	return discoveryResult{manager: current, addr: addr, cursor: dataEnd}, nil
}

// freshInit formats a blank device: an empty ManagerTable programmed at
// offset 0 of a freshly erased sector 0, with the cursor left past room
// for the current and next manager reservation.
func freshInit(drv Driver, totalSize uint32) (discoveryResult, error) {
	var m ManagerTable
	m.Magic = magicManager
	m.Version = managerVersion
	m.TotalSize = totalSize
	m.UsedSize = 0
	m.TableCount = 0
	m.NextManagerAddr = ManagerTableSize

	// Formatting ignores the erase-allowed flag: a device with no valid
	// manager at all must be formattable even when opened with
	// eraseAllowed=false, since there is nothing yet to preserve.
	if err := drv.Erase(0, Sector); err != nil {
		return discoveryResult{}, fmt.Errorf("erase sector 0 during fresh init: %w: %v", ErrDriver, err)
	}

	buf := encodeManagerTable(&m)
	prog := NewChunkedProgrammer(drv)
	if err := prog.Program(0, buf); err != nil {
		return discoveryResult{}, err
	}

	return discoveryResult{
		manager: m,
		addr:    0,
		cursor:  ManagerTableSize * 2,
	}, nil
}
