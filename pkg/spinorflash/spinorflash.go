// Package spinorflash implements the engine's flash driver contract over
// a raw SPI NOR flash chip, issuing the standard JEDEC command set
// through a periph.io SPI connection with a GPIO chip select.
package spinorflash

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Flash commands common to W25Q/N25Q/GD25Q class parts.
const (
	cmdPowerUp     = 0xAB // Release Power Down
	cmdReadID      = 0x9F
	cmdRead        = 0x03
	cmdWriteEnable = 0x06
	cmdPageProgram = 0x02
	cmdErase4KB    = 0x20
	cmdReadStatus  = 0x05
)

// statusWIP is the write-in-progress bit of status register 1.
const statusWIP = 0x01

// pageSize is the JEDEC page-program granularity. A single page-program
// transaction must not cross a page boundary or the address wraps.
const pageSize = 256

// ErrTimeout indicates the chip's write-in-progress bit never cleared.
var ErrTimeout = errors.New("spinorflash: busy-wait timeout")

// ErrNoChip indicates Init read an all-zero or all-ones JEDEC ID.
var ErrNoChip = errors.New("spinorflash: no flash chip detected")

// Device adapts a SPI NOR chip to the engine's driver contract. The
// chip select is asserted around every transaction; the SPI bus may be
// shared with other devices between calls.
type Device struct {
	conn spi.Conn
	cs   gpio.PinIO

	// SectorSize is the erase granularity the engine expects; the 4KB
	// subsector erase command matches the engine's default.
	SectorSize uint32

	// Timeout bounds every busy-wait on the status register. Sector
	// erases on these parts complete in tens of milliseconds; the
	// default is generous.
	Timeout time.Duration

	id [3]byte
}

// New wraps an already-configured SPI connection and chip-select pin.
func New(conn spi.Conn, cs gpio.PinIO, sectorSize uint32) *Device {
	return &Device{
		conn:       conn,
		cs:         cs,
		SectorSize: sectorSize,
		Timeout:    2 * time.Second,
	}
}

// ID returns the JEDEC ID read by Init.
func (d *Device) ID() [3]byte {
	return d.id
}

// tx runs one full-duplex transaction with the chip select asserted.
func (d *Device) tx(buf []byte) (err error) {
	if err = d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := d.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()

	return d.conn.Tx(buf, buf)
}

// Init wakes the chip and verifies something answers on the bus.
func (d *Device) Init() error {
	if err := d.tx([]byte{cmdPowerUp}); err != nil {
		return fmt.Errorf("spinorflash: power up: %w", err)
	}
	// tRES1: time from release-power-down to standby.
	time.Sleep(30 * time.Microsecond)

	buf := []byte{cmdReadID, 0, 0, 0}
	if err := d.tx(buf); err != nil {
		return fmt.Errorf("spinorflash: read id: %w", err)
	}
	d.id = [3]byte(buf[1:])

	if d.id == [3]byte{} || d.id == [3]byte{0xFF, 0xFF, 0xFF} {
		return ErrNoChip
	}

	return d.waitIdle()
}

// Read copies len(buf) bytes starting at addr using the slow (no-dummy)
// read command, which works at any SPI clock the bus is configured for.
func (d *Device) Read(addr uint32, buf []byte) error {
	tx := make([]byte, 4+len(buf))
	tx[0] = cmdRead
	tx[1] = byte(addr >> 16)
	tx[2] = byte(addr >> 8)
	tx[3] = byte(addr)

	if err := d.tx(tx); err != nil {
		return fmt.Errorf("spinorflash: read %d bytes at 0x%x: %w", len(buf), addr, err)
	}

	copy(buf, tx[4:])

	return nil
}

// Program writes buf at addr, splitting on page boundaries and polling
// out each page's completion. NOR cells only move 1 -> 0, and these
// parts silently AND when programmed over non-erased bytes, so the
// target range is read back first and the call fails, before anything is
// programmed, if any byte would need a bit raised.
func (d *Device) Program(addr uint32, buf []byte) error {
	old := make([]byte, len(buf))
	if err := d.Read(addr, old); err != nil {
		return err
	}
	for i, b := range buf {
		if old[i]&b != b {
			return fmt.Errorf("spinorflash: program at 0x%x would set bits (have 0x%02x, want 0x%02x)",
				addr+uint32(i), old[i], b)
		}
	}

	for len(buf) > 0 {
		n := int(pageSize - addr%pageSize)
		if n > len(buf) {
			n = len(buf)
		}

		if err := d.writeEnable(); err != nil {
			return err
		}

		tx := make([]byte, 4+n)
		tx[0] = cmdPageProgram
		tx[1] = byte(addr >> 16)
		tx[2] = byte(addr >> 8)
		tx[3] = byte(addr)
		copy(tx[4:], buf[:n])

		if err := d.tx(tx); err != nil {
			return fmt.Errorf("spinorflash: page program at 0x%x: %w", addr, err)
		}
		if err := d.waitIdle(); err != nil {
			return fmt.Errorf("spinorflash: page program at 0x%x: %w", addr, err)
		}

		addr += uint32(n)
		buf = buf[n:]
	}

	return nil
}

// Erase resets [addr, addr+size) to 0xFF, one 4KB subsector at a time.
func (d *Device) Erase(addr uint32, size uint32) error {
	if addr%d.SectorSize != 0 || size%d.SectorSize != 0 {
		return fmt.Errorf("spinorflash: erase [0x%x, +%d) not sector-aligned", addr, size)
	}

	for end := addr + size; addr < end; addr += d.SectorSize {
		if err := d.writeEnable(); err != nil {
			return err
		}

		tx := []byte{cmdErase4KB, byte(addr >> 16), byte(addr >> 8), byte(addr)}
		if err := d.tx(tx); err != nil {
			return fmt.Errorf("spinorflash: sector erase at 0x%x: %w", addr, err)
		}
		if err := d.waitIdle(); err != nil {
			return fmt.Errorf("spinorflash: sector erase at 0x%x: %w", addr, err)
		}
	}

	return nil
}

func (d *Device) writeEnable() error {
	if err := d.tx([]byte{cmdWriteEnable}); err != nil {
		return fmt.Errorf("spinorflash: write enable: %w", err)
	}
	return nil
}

// waitIdle polls status register 1 until WIP clears or Timeout expires.
func (d *Device) waitIdle() error {
	deadline := time.Now().Add(d.Timeout)

	for {
		buf := []byte{cmdReadStatus, 0}
		if err := d.tx(buf); err != nil {
			return err
		}
		if buf[1]&statusWIP == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(100 * time.Microsecond)
	}
}
