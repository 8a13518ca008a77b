package flashtable

import "fmt"

// saveManagerTable writes a new manager version into its reserved slot
// and advances the reservation for the version after that. It is
// the linearization point of every mutation:
// once this returns successfully, the new manager is durable and the
// engine's in-RAM state and on-flash state agree.
func (e *Engine) saveManagerTable() error {
	target := e.manager.NextManagerAddr
	if target == 0 || target >= e.totalSize {
		return wrapf(ErrNoSpace, "manager reservation 0x%x invalid for total size %d", target, e.totalSize)
	}

	cursor := e.alloc.cursor()
	nextReservation := cursor
	if Sector-offsetInSector(cursor) < ManagerTableSize {
		nextReservation = nextSectorBoundary(cursor)
	}

	if uint64(nextReservation)+uint64(ManagerTableSize) > uint64(e.totalSize) {
		return wrapf(ErrNoSpace, "next manager reservation 0x%x does not fit before total size %d", nextReservation, e.totalSize)
	}

	needErase := false
	if e.eraseAllowed {
		probe := make([]byte, 1)
		if err := e.drv.Read(target, probe); err != nil {
			return fmt.Errorf("probe manager target 0x%x: %w: %v", target, ErrDriver, err)
		}
		needErase = probe[0] != 0xFF
	}
	// When eraseAllowed is false the probe is skipped entirely: if the
	// target bytes are not already 0xFF the subsequent program call will
	// fail, and that failure is the defined behavior for a device that is
	// read-only but full. Probing unconditionally would only mask the
	// configuration problem behind a nicer error.

	if needErase {
		if !e.eraseAllowed {
			return wrapf(ErrEraseForbidden, "manager target 0x%x needs erase but erase is not allowed", target)
		}

		first := sectorStart(target)
		last := sectorStart(target + ManagerTableSize - 1)
		for s := first; s <= last; s += Sector {
			if err := e.drv.Erase(s, Sector); err != nil {
				e.logger.Warnf("commit: erase sector 0x%x for manager target 0x%x failed: %v", s, target, err)
				return wrapf(ErrEraseForbidden, "erase sector 0x%x for manager commit: %v", s, err)
			}
		}
	}

	newCursor := nextReservation + ManagerTableSize
	e.manager.NextManagerAddr = nextReservation
	e.manager.UsedSize = newCursor

	buf := encodeManagerTable(&e.manager)
	if err := e.prog.Program(target, buf); err != nil {
		return err
	}

	e.managerAddr = target
	e.alloc.setCursor(newCursor)

	return nil
}
