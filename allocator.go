package flashtable

// allocator is the engine's append cursor. It hands out
// contiguous byte ranges that never straddle a sector boundary, erasing
// fresh sectors as the cursor crosses into them when erasing is allowed.
//
// It holds no flash state of its own beyond the cursor: every allocation
// is committed to durable storage only once the caller programs the
// returned range and a manager-table commit follows.
type allocator struct {
	drv          Driver
	totalSize    uint32
	eraseAllowed bool

	freeAddr uint32 // current_sector*Sector + current_offset
}

func newAllocator(drv Driver, totalSize uint32, eraseAllowed bool, cursor uint32) *allocator {
	return &allocator{
		drv:          drv,
		totalSize:    totalSize,
		eraseAllowed: eraseAllowed,
		freeAddr:     cursor,
	}
}

// cursor reports the current free address.
func (a *allocator) cursor() uint32 {
	return a.freeAddr
}

// setCursor overrides the free address, used after GC recomputes it.
func (a *allocator) setCursor(addr uint32) {
	a.freeAddr = addr
}

// allocate reserves size bytes starting at a fresh address, advancing the
// cursor to the next sector boundary first if size would otherwise cross
// one. It returns [ErrInvalidArg] if size is zero or exceeds
// [Sector], and [ErrNoSpace] if the request does not fit before
// totalSize.
func (a *allocator) allocate(size uint32) (uint32, error) {
	if size == 0 || size > Sector {
		return 0, wrapf(ErrInvalidArg, "allocation size %d invalid (must be 1..%d)", size, Sector)
	}

	addr := a.freeAddr
	crossedSector := false

	if offsetInSector(addr)+size > Sector {
		addr = nextSectorBoundary(addr)
		crossedSector = true
	}

	if uint64(addr)+uint64(size) > uint64(a.totalSize) {
		return 0, wrapf(ErrNoSpace, "allocation of %d bytes at 0x%x exceeds total size %d", size, addr, a.totalSize)
	}

	if crossedSector && a.eraseAllowed {
		if err := a.drv.Erase(sectorStart(addr), Sector); err != nil {
			return 0, wrapf(ErrDriver, "erase sector at 0x%x: %v", sectorStart(addr), err)
		}
	}
	// If eraseAllowed is false, the newly entered sector is assumed to
	// already be 0xFF; the caller's subsequent program step will
	// fail with a driver error if that assumption doesn't hold.

	a.freeAddr = addr + size

	return addr, nil
}
