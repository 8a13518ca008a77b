package flashtable

import "fmt"

// GC compacts the device: every Valid table is moved to the low end of
// flash, Deleted and orphaned images are reclaimed, and all trailing
// sectors are erased back to 0xFF. Requires erase to be allowed;
// returns [ErrEraseForbidden] otherwise.
//
// The normal path runs in two stages. Stage one evacuates sector 0 into
// a scratch sector (the lowest sector holding no Valid table), which
// leaves a blank prefix at the bottom of the device. Stage two walks
// every Valid table in ascending address order and rewrites it into that
// prefix, sector by sector, erasing each sector as the write position
// enters it. Tables in that sector that are still waiting to be copied
// are read into RAM before the erase, so no pending image is lost.
//
// If no sector is free of Valid tables the device cannot be compacted
// in place: GC falls back to a full reset that discards ALL data and
// reformats the device. This degenerate path exists so a wedged device
// is always recoverable; callers that cannot tolerate data loss must
// check for a free sector themselves (one whole sector of slack is the
// practical minimum for a GC-able device).
func (e *Engine) GC() error {
	if !e.eraseAllowed {
		return wrapf(ErrEraseForbidden, "gc requires erase")
	}

	scratch, ok := e.findEmptySector()
	if !ok {
		e.logger.Warnf("gc: no empty sector, resetting device and discarding all tables")
		return e.gcReset()
	}

	return e.gcCompact(scratch)
}

// findEmptySector returns the lowest sector index containing no Valid
// slot's table image, or ok=false when every sector holds one.
func (e *Engine) findEmptySector() (uint32, bool) {
	sectorCount := e.totalSize / Sector

	for s := uint32(0); s < sectorCount; s++ {
		used := false
		for i := range e.manager.Tables {
			slot := &e.manager.Tables[i]
			if slot.Status == StatusValid && sectorOf(slot.Addr) == s {
				used = true
				break
			}
		}
		if !used {
			return s, true
		}
	}

	return 0, false
}

// validSlotsByAddr returns the indices of every Valid slot, sorted by
// ascending table address.
func (e *Engine) validSlotsByAddr() []int {
	var idx []int
	for i := range e.manager.Tables {
		if e.manager.Tables[i].Status == StatusValid {
			idx = append(idx, i)
		}
	}

	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && e.manager.Tables[idx[j]].Addr < e.manager.Tables[idx[j-1]].Addr; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}

	return idx
}

// moveTable reads the header+data image at the slot's current address
// into RAM and programs it at dst, then repoints the in-RAM slot.
func (e *Engine) moveTable(slotIdx int, dst uint32) error {
	slot := &e.manager.Tables[slotIdx]

	img := make([]byte, slot.Size)
	if err := e.drv.Read(slot.Addr, img); err != nil {
		return fmt.Errorf("gc: read table at 0x%x: %w: %v", slot.Addr, ErrDriver, err)
	}

	if err := e.prog.Program(dst, img); err != nil {
		return err
	}

	slot.Addr = dst

	return nil
}

func (e *Engine) eraseSector(sector uint32) error {
	if err := e.drv.Erase(sector*Sector, Sector); err != nil {
		return wrapf(ErrDriver, "gc: erase sector %d: %v", sector, err)
	}
	return nil
}

// gcCompact is the two-stage path: evacuate sector 0 into scratch, then
// rewrite every Valid table into a dense prefix starting right after the
// room reserved for the new manager at offset 0.
func (e *Engine) gcCompact(scratch uint32) error {
	if err := e.eraseSector(scratch); err != nil {
		return err
	}

	// Stage one: move every table out of sector 0 so it can be erased.
	// The scratch copies are packed contiguously; each still fits in the
	// one (scratch) sector because sector 0 held them all plus a manager.
	evac := scratch * Sector
	for _, i := range e.validSlotsByAddr() {
		if sectorOf(e.manager.Tables[i].Addr) != 0 {
			continue
		}
		if err := e.moveTable(i, evac); err != nil {
			return err
		}
		evac += e.manager.Tables[i].Size
	}

	if err := e.eraseSector(0); err != nil {
		return err
	}

	// Stage two: dense rewrite. The write position starts past the room
	// reserved for the manager record at offset 0 and erases each sector
	// on entry. On a tightly packed device the write position can enter
	// a sector that still holds tables waiting to be copied, so before
	// each erase the pending images in that sector are stashed in RAM
	// (at most one sector's worth at a time).
	writePos := uint32(ManagerTableSize)
	erasedThrough := uint32(0) // sector 0 erased above
	order := e.validSlotsByAddr()
	stash := make(map[int][]byte)

	for n, i := range order {
		size := e.manager.Tables[i].Size

		if offsetInSector(writePos)+size > Sector {
			writePos = nextSectorBoundary(writePos)
		}

		if s := sectorOf(writePos); s > erasedThrough {
			for _, j := range order[n:] {
				if stash[j] != nil || sectorOf(e.manager.Tables[j].Addr) != s {
					continue
				}
				img := make([]byte, e.manager.Tables[j].Size)
				if err := e.drv.Read(e.manager.Tables[j].Addr, img); err != nil {
					return fmt.Errorf("gc: read table at 0x%x: %w: %v", e.manager.Tables[j].Addr, ErrDriver, err)
				}
				stash[j] = img
			}
			if err := e.eraseSector(s); err != nil {
				return err
			}
			erasedThrough = s
		}

		img := stash[i]
		if img == nil {
			img = make([]byte, size)
			if err := e.drv.Read(e.manager.Tables[i].Addr, img); err != nil {
				return fmt.Errorf("gc: read table at 0x%x: %w: %v", e.manager.Tables[i].Addr, ErrDriver, err)
			}
		} else {
			delete(stash, i)
		}

		if err := e.prog.Program(writePos, img); err != nil {
			return err
		}

		e.manager.Tables[i].Addr = writePos
		writePos += size
	}

	// Deleted slots have nothing left on flash now; recycle them.
	for i := range e.manager.Tables {
		if e.manager.Tables[i].Status == StatusDeleted {
			e.manager.Tables[i] = TableSlot{}
		}
	}

	// New manager at offset 0; its successor is reserved at the top of
	// the compacted data.
	e.manager.NextManagerAddr = writePos
	e.manager.UsedSize = writePos
	if err := e.prog.Program(0, encodeManagerTable(&e.manager)); err != nil {
		return err
	}
	e.managerAddr = 0

	lastWritten := sectorOf(writePos - 1)
	for s := lastWritten + 1; s < e.totalSize/Sector; s++ {
		if err := e.eraseSector(s); err != nil {
			return err
		}
	}

	// The successor reservation sits at writePos; allocations resume
	// past it, mirroring what a commit leaves behind.
	e.alloc.setCursor(writePos + ManagerTableSize)

	return nil
}

// gcReset is the degenerate path: no sector is free, so the whole device
// is erased and reformatted with an empty manager. All tables are lost.
func (e *Engine) gcReset() error {
	for s := uint32(0); s < e.totalSize/Sector; s++ {
		if err := e.eraseSector(s); err != nil {
			return err
		}
	}

	var m ManagerTable
	m.Magic = magicManager
	m.Version = managerVersion
	m.TotalSize = e.totalSize
	m.UsedSize = 0
	m.TableCount = 0
	m.NextManagerAddr = ManagerTableSize

	if err := e.prog.Program(0, encodeManagerTable(&m)); err != nil {
		return err
	}

	e.manager = m
	e.managerAddr = 0
	e.alloc.setCursor(ManagerTableSize * 2)

	return nil
}
