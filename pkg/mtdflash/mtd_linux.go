//go:build linux

// Package mtdflash implements the engine's flash driver contract over a
// Linux MTD character device (/dev/mtdN). The kernel's mtd layer already
// exposes NOR semantics directly: plain pread/pwrite for read/program and
// the MEMERASE ioctl for sector erase.
package mtdflash

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Ioctl encoding constants (see <asm-generic/ioctl.h>).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

// MTD ioctl type ("magic") and command numbers per <mtd/mtd-abi.h>.
const (
	mtdIoctlType = 'M'

	memGetInfoNR = 1 // MEMGETINFO
	memEraseNR   = 2 // MEMERASE
)

// mtdInfoUser per UAPI; layout must match kernel ABI.
type mtdInfoUser struct {
	Type      uint8
	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OOBSize   uint32
	Padding   uint64
}

// eraseInfoUser per UAPI.
type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | mtdIoctlType<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

var (
	memGetInfoIoctl = ioc(iocRead, memGetInfoNR, unsafe.Sizeof(mtdInfoUser{}))
	memEraseIoctl   = ioc(iocWrite, memEraseNR, unsafe.Sizeof(eraseInfoUser{}))
)

// ErrGeometry indicates the device's erase block size does not match the
// sector size the engine is compiled for.
var ErrGeometry = errors.New("mtdflash: erase block size mismatch")

// Device adapts one MTD partition to the engine's driver contract.
// Construct with [Open]; Init re-validates geometry and may be called
// repeatedly.
type Device struct {
	path string
	f    *os.File

	// SectorSize is the sector size the engine expects; Init fails with
	// ErrGeometry if the device's erasesize differs.
	SectorSize uint32

	info mtdInfoUser
}

// Open prepares an adapter for the MTD character device at path (for
// example /dev/mtd3). The device is opened and probed by Init.
func Open(path string, sectorSize uint32) *Device {
	return &Device{path: path, SectorSize: sectorSize}
}

// Size returns the partition size in bytes. Valid after Init.
func (d *Device) Size() uint32 {
	return d.info.Size
}

// Init opens the device node and checks its geometry against the
// engine's sector size.
func (d *Device) Init() error {
	if d.f == nil {
		f, err := os.OpenFile(d.path, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("mtdflash: open %s: %w", d.path, err)
		}
		d.f = f
	}

	if err := d.ioctl(memGetInfoIoctl, unsafe.Pointer(&d.info)); err != nil {
		return fmt.Errorf("mtdflash: MEMGETINFO on %s: %w", d.path, err)
	}

	if d.info.EraseSize != d.SectorSize {
		return fmt.Errorf("%w: device erasesize %d, engine sector %d",
			ErrGeometry, d.info.EraseSize, d.SectorSize)
	}

	return nil
}

// Close releases the device node. A closed Device can be re-initialized.
func (d *Device) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Read copies len(buf) bytes starting at addr.
func (d *Device) Read(addr uint32, buf []byte) error {
	if _, err := d.f.ReadAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("mtdflash: read %d bytes at 0x%x: %w", len(buf), addr, err)
	}
	return nil
}

// Program writes buf at addr. The mtd layer programs NOR in place, so
// this call clears bits only; writing over non-erased bytes is reported
// by the kernel as EIO.
func (d *Device) Program(addr uint32, buf []byte) error {
	if _, err := d.f.WriteAt(buf, int64(addr)); err != nil {
		return fmt.Errorf("mtdflash: program %d bytes at 0x%x: %w", len(buf), addr, err)
	}
	return nil
}

// Erase resets [addr, addr+size) to 0xFF via MEMERASE. The ioctl is
// synchronous: it returns only once the erase has completed.
func (d *Device) Erase(addr uint32, size uint32) error {
	if addr%d.SectorSize != 0 || size%d.SectorSize != 0 {
		return fmt.Errorf("mtdflash: erase [0x%x, +%d) not sector-aligned", addr, size)
	}

	req := eraseInfoUser{Start: addr, Length: size}
	if err := d.ioctl(memEraseIoctl, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("mtdflash: MEMERASE [0x%x, +%d): %w", addr, size, err)
	}

	return nil
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
